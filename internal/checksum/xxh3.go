package checksum

import "github.com/zeebo/xxh3"

// lastBytePrime folds the trailing type byte into a truncated XXH3 hash.
const lastBytePrime = 0x6b9083d9

// XXH3_64bits computes the 64-bit XXH3 hash of data.
func XXH3_64bits(data []byte) uint64 {
	return xxh3.Hash(data)
}

// XXH3ChecksumWithLastByte computes the XXH3 block checksum of data followed
// by lastByte, where lastByte is not part of the data buffer.
func XXH3ChecksumWithLastByte(data []byte, lastByte byte) uint32 {
	v := uint32(xxh3.Hash(data))
	return v ^ (uint32(lastByte) * lastBytePrime)
}
