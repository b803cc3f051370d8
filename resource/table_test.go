package resource

import (
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/arcext/archive"
	"github.com/meigma/arcext/internal/arctype"
	"github.com/meigma/arcext/internal/testutil"
)

func newTable(tb testing.TB, n int, opts ...Option) (*archive.Index, *Table) {
	tb.Helper()
	idx, err := archive.New(archive.Seed(testutil.SeedHashes(n), nil))
	require.NoError(tb, err)
	tbl, err := New(idx, opts...)
	require.NoError(tb, err)
	return idx, tbl
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil index", func(t *testing.T) {
		t.Parallel()
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("default algorithm", func(t *testing.T) {
		t.Parallel()
		_, tbl := newTable(t, 1)
		assert.Equal(t, digest.SHA256, tbl.Algorithm())
	})

	t.Run("unavailable algorithm", func(t *testing.T) {
		t.Parallel()
		idx, err := archive.New(archive.Tables{})
		require.NoError(t, err)
		_, err = New(idx, WithDigestAlgorithm("md5"))
		assert.Error(t, err)
	})
}

func TestLoadUnload(t *testing.T) {
	t.Parallel()

	idx, tbl := newTable(t, 3)
	payload := []byte("animation bytes")

	require.NoError(t, tbl.Load(1, payload))

	st, err := tbl.State(1)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusLoaded, st.Status)
	assert.Equal(t, uint32(1), st.RefCount)
	assert.True(t, st.InUse)
	assert.Equal(t, uint32(1), st.Version)
	assert.Equal(t, len(payload), st.Size)
	assert.Equal(t, digest.FromBytes(payload), st.Digest)

	data, err := tbl.Data(1)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NoError(t, tbl.Unload(1))

	res, err := idx.Resource(1)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusEmpty, res.Status)
	assert.Zero(t, res.RefCount)
	assert.Nil(t, res.Data)
	assert.False(t, res.InUse)

	err = tbl.Unload(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDoubleUnload)
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), "unloading previously unloaded data")
}

func TestLoadTwice(t *testing.T) {
	t.Parallel()

	idx, tbl := newTable(t, 2)
	require.NoError(t, tbl.Load(0, []byte("first")))

	err := tbl.Load(0, []byte("second"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDoubleLoad)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Contains(t, err.Error(), "reloaded while previous still loaded")

	res, err := idx.Resource(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), res.Data, "failed load must not replace the buffer")
	assert.Equal(t, uint32(1), res.RefCount)
}

func TestReloadBumpsVersion(t *testing.T) {
	t.Parallel()

	_, tbl := newTable(t, 1)
	for i := range 3 {
		require.NoError(t, tbl.Load(0, []byte{byte(i)}))
		require.NoError(t, tbl.Unload(0))
	}
	require.NoError(t, tbl.Load(0, nil))

	st, err := tbl.State(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), st.Version)
	assert.Equal(t, archive.StatusLoaded, st.Status)
	assert.Zero(t, st.Size)
}

func TestUnloadStillInUse(t *testing.T) {
	t.Parallel()

	idx, tbl := newTable(t, 1)
	require.NoError(t, tbl.Load(0, []byte("shared")))
	require.NoError(t, idx.Update(func(tx *archive.Tx) error {
		res, err := tx.Resource(0)
		if err != nil {
			return err
		}
		res.RefCount = 2
		return nil
	}))

	err := tbl.Unload(0)
	assert.ErrorIs(t, err, ErrStillInUse)
	data, err := tbl.Data(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), data)
}

func TestCrossReferenceErrors(t *testing.T) {
	t.Parallel()

	seed := archive.Seed(testutil.SeedHashes(3), nil)
	seed.Loaded[1].Present = false
	seed.Loaded[2] = archive.LoadedSlot{Resource: 40, Present: false}
	idx, err := archive.New(seed)
	require.NoError(t, err)
	tbl, err := New(idx)
	require.NoError(t, err)

	for _, slot := range []archive.Slot{1, 2} {
		err := tbl.Load(slot, []byte("x"))
		assert.ErrorIs(t, err, ErrCrossReference, "slot %d", slot)
		fe, ok := arctype.AsFatal(err)
		require.True(t, ok)
		assert.Equal(t, int64(slot), fe.Slot)
	}

	assert.ErrorIs(t, tbl.Load(9, []byte("x")), ErrUnknownSlot)
	assert.ErrorIs(t, tbl.Unload(9), ErrUnknownSlot)

	st, err := tbl.State(1)
	require.NoError(t, err)
	assert.False(t, st.Present)
}

func TestBlake3Digest(t *testing.T) {
	t.Parallel()

	_, tbl := newTable(t, 1, WithDigestAlgorithm(digest.BLAKE3))
	require.NoError(t, tbl.Load(0, []byte("hello")))

	st, err := tbl.State(0)
	require.NoError(t, err)
	assert.Equal(t, digest.BLAKE3, st.Digest.Algorithm())
	assert.NoError(t, st.Digest.Validate())
}

func TestStats(t *testing.T) {
	t.Parallel()

	_, tbl := newTable(t, 4)
	require.NoError(t, tbl.Load(0, []byte("ab")))
	require.NoError(t, tbl.Load(3, []byte("cdef")))

	assert.Equal(t, Stats{Slots: 4, Loaded: 2, Bytes: 6}, tbl.Stats())
}

func TestConcurrentTransitions(t *testing.T) {
	t.Parallel()

	const n = 32
	_, tbl := newTable(t, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			slot := archive.Slot(i) //nolint:gosec // small test index
			assert.NoError(t, tbl.Load(slot, []byte{byte(i)}))
			assert.NoError(t, tbl.Unload(slot))
		})
	}
	wg.Wait()

	assert.Zero(t, tbl.Stats().Loaded)
}
