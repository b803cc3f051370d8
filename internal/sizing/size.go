// Package sizing provides safe size arithmetic for table slots and file reads.
package sizing

import (
	"bytes"
	"io"
	"math"
)

// ToUint32 converts a uint64 to uint32, returning overflowErr if it doesn't fit.
func ToUint32(size uint64, overflowErr error) (uint32, error) {
	if size > math.MaxUint32 {
		return 0, overflowErr
	}
	return uint32(size), nil
}

// GrowSlots reports the table length after appending n slots to a table of
// length cur, or false if the result would not be addressable by a uint32 slot.
func GrowSlots(cur, n int) (int, bool) {
	if cur < 0 || n < 0 {
		return 0, false
	}
	total := uint64(cur) + uint64(n)
	if total > math.MaxUint32 {
		return 0, false
	}
	return int(total), true
}

// ReadBounded reads r to EOF and fails with overflowErr once more than
// maxSize bytes arrive. A maxSize of 0 disables the bound. hint is the
// expected size (usually from a stat) and only sizes the initial buffer.
func ReadBounded(r io.Reader, hint int64, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize > 0 {
		if maxSize >= math.MaxInt64 {
			maxSize = 0
		} else {
			r = io.LimitReader(r, int64(maxSize)+1) //nolint:gosec // bounded above
		}
	}
	if hint < 0 || (maxSize > 0 && uint64(hint) > maxSize) {
		hint = 0
	}

	var buf bytes.Buffer
	buf.Grow(int(hint) + 1)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	if maxSize > 0 && uint64(buf.Len()) > maxSize {
		return nil, overflowErr
	}
	return buf.Bytes(), nil
}
