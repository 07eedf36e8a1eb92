// Package checksum provides the block checksums used by on-disk block images.
//
// This package implements:
//   - CRC32C (Castagnoli) with masking, so checksums stored next to data
//     that itself contains checksums stay well distributed
//   - XXH3 (64-bit, truncated to 32 bits) via github.com/zeebo/xxh3
//
// Both checksums are computed over a payload and then extended by a single
// trailing type byte that is stored outside the payload.
package checksum

import (
	"hash/crc32"
)

// crc32cTable is the Castagnoli polynomial table used for CRC32C.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is the constant added during masking.
const maskDelta = 0xa282ead8

// Value computes the CRC32C checksum of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Extend computes the CRC32C of concat(A, data) where initCRC is the CRC32C of A.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, crc32cTable, data)
}

// Mask returns a masked representation of crc.
//
// It is problematic to compute the CRC of a string that contains embedded
// CRCs, so CRCs stored alongside data should be masked first.
func Mask(crc uint32) uint32 {
	// Rotate right by 15 bits and add a constant.
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask returns the crc whose masked representation is maskedCRC.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// MaskedValue computes the CRC32C and masks it in one call.
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}
