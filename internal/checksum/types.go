package checksum

import "fmt"

// Type represents the type of checksum algorithm.
type Type uint8

const (
	// TypeNoChecksum means no checksum is stored.
	TypeNoChecksum Type = 0
	// TypeCRC32C is masked CRC32C (Castagnoli).
	TypeCRC32C Type = 1
	// TypeXXH3 is XXH3 truncated to 32 bits.
	TypeXXH3 Type = 4
)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeCRC32C:
		return "CRC32C"
	case TypeXXH3:
		return "XXH3"
	default:
		return "Unknown"
	}
}

// ParseType converts a checksum name (as printed by String, or the lower-case
// forms "none", "crc32c", "xxh3") to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "none", "NoChecksum":
		return TypeNoChecksum, nil
	case "crc32c", "CRC32C":
		return TypeCRC32C, nil
	case "xxh3", "XXH3":
		return TypeXXH3, nil
	default:
		return TypeNoChecksum, fmt.Errorf("checksum: unknown type %q", s)
	}
}

// ComputeCRC32CChecksumWithLastByte computes a masked CRC32C over data
// extended by lastByte.
func ComputeCRC32CChecksumWithLastByte(data []byte, lastByte byte) uint32 {
	crc := Value(data)
	crc = Extend(crc, []byte{lastByte})
	return Mask(crc)
}

// ComputeChecksum computes a checksum of the given type.
// For block slots, data is the stored payload and lastByte is the
// compression type.
func ComputeChecksum(t Type, data []byte, lastByte byte) uint32 {
	switch t {
	case TypeCRC32C:
		return ComputeCRC32CChecksumWithLastByte(data, lastByte)
	case TypeXXH3:
		return XXH3ChecksumWithLastByte(data, lastByte)
	default:
		return 0
	}
}
