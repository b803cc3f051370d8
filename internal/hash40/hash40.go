// Package hash40 implements the 40-bit path hash used to key archive paths.
//
// A hash40 packs the CRC-32 (IEEE) of the lowercased path into the low 32
// bits and the path length, truncated to a byte, into bits 32 through 39.
package hash40

import (
	"hash/crc32"
	"strings"
)

// Mask covers the 40 significant bits of a hash.
const Mask uint64 = 0xFF_FFFF_FFFF

// Of returns the hash40 of path.
func Of(path string) uint64 {
	lower := strings.ToLower(path)
	crc := crc32.ChecksumIEEE([]byte(lower))
	return uint64(len(lower)&0xFF)<<32 | uint64(crc)
}

// Length returns the length byte stored in h.
func Length(h uint64) uint8 {
	return uint8(h >> 32)
}

// CRC returns the CRC-32 stored in h.
func CRC(h uint64) uint32 {
	return uint32(h)
}
