package hash40

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	t.Parallel()

	path := "rom:/fighter/mario/motion/body/c00/a00wait1.nuanmb"
	h := Of(path)

	assert.Equal(t, uint8(len(path)), Length(h))
	assert.Equal(t, crc32.ChecksumIEEE([]byte(path)), CRC(h))
	assert.Zero(t, h&^Mask, "hash must fit in 40 bits")
}

func TestOfCaseInsensitive(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Of("rom:/Fighter/Mario.PRC"), Of("rom:/fighter/mario.prc"))
}

func TestOfDistinct(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t, Of("a.ext"), Of("b.ext"))
	assert.NotEqual(t, Of("a.ext"), Of("a.ex"))
}

func TestOfLongPathTruncatesLength(t *testing.T) {
	t.Parallel()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	assert.Equal(t, uint8(300&0xFF), Length(Of(string(long))))
}
