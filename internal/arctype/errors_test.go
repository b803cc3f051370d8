package arctype

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalErrorIs(t *testing.T) {
	t.Parallel()

	err := FatalSlot(KindInvariant, "unload", 12, ErrDoubleUnload)

	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, ErrInvariant)
	assert.ErrorIs(t, err, ErrDoubleUnload)
	assert.NotErrorIs(t, err, ErrConfig)
	assert.NotErrorIs(t, err, ErrIO)
}

func TestFatalErrorWrapped(t *testing.T) {
	t.Parallel()

	inner := Fatal(KindIO, "read", "rom:/a.bin", fmt.Errorf("%w: %w", ErrFileNotFound, os.ErrNotExist))
	err := fmt.Errorf("router: attach fighter: %w", inner)

	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	fe, ok := AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, "rom:/a.bin", fe.Path)
	assert.Equal(t, int64(NoSlot), fe.Slot)
}

func TestFatalErrorMessage(t *testing.T) {
	t.Parallel()

	t.Run("slot", func(t *testing.T) {
		t.Parallel()
		err := FatalSlot(KindInvariant, "load", 4, ErrDoubleLoad)
		assert.Equal(t, "arcext: fatal invariant violation: load slot 4: reloaded while previous still loaded", err.Error())
	})

	t.Run("path", func(t *testing.T) {
		t.Parallel()
		err := Fatal(KindConfig, "dispatch", "usb:/x", ErrInvalidMount)
		assert.Equal(t, `arcext: fatal configuration error: dispatch "usb:/x": mount name is invalid`, err.Error())
	})
}

func TestIsFatalPlainError(t *testing.T) {
	t.Parallel()
	assert.False(t, IsFatal(errors.New("boom")))
	_, ok := AsFatal(errors.New("boom"))
	assert.False(t, ok)
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}

func TestPanicOnFatal(t *testing.T) {
	t.Parallel()

	err := Fatal(KindIO, "read", "sd:/x", ErrFileNotFound)
	assert.PanicsWithError(t, err.Error(), func() {
		PanicOnFatal(nil)(err)
	})
}
