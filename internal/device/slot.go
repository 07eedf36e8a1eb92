package device

import (
	"encoding/binary"
	"fmt"

	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
)

// Slot layout, one per block at offset blockNo*SlotSize(blockSize):
//
//	[stored length: 4 bytes LE] [compression type: 1 byte] [payload] [checksum: 4 bytes LE]
//
// The checksum covers the payload extended by the compression type byte and
// directly follows the payload. Bytes after it are zero. A slot whose header
// is all zero was never written.
const (
	slotHeaderSize  = 5
	slotTrailerSize = 4
	slotOverhead    = slotHeaderSize + slotTrailerSize
)

// SlotSize returns the on-disk size of one block slot.
func SlotSize(blockSize int) int {
	return blockSize + slotOverhead
}

// Slot is a decoded slot header.
type Slot struct {
	// Written is false for a slot that was never written.
	Written     bool
	StoredLen   int
	Compression compression.Type
	Checksum    uint32
	Payload     []byte
}

// encodeSlot fills buf (SlotSize long) with the slot for data.
func encodeSlot(buf, data []byte, comp compression.Type, cs checksum.Type) error {
	ctype, payload, err := compression.CompressIfSmaller(comp, data)
	if err != nil {
		return err
	}
	n := len(payload)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n))
	buf[4] = byte(ctype)
	copy(buf[slotHeaderSize:], payload)
	sum := checksum.ComputeChecksum(cs, payload, byte(ctype))
	binary.LittleEndian.PutUint32(buf[slotHeaderSize+n:], sum)
	clear(buf[slotHeaderSize+n+slotTrailerSize:])
	return nil
}

// decodeSlot parses the raw slot bytes. It does not verify the checksum.
func decodeSlot(buf []byte, blockSize int) (Slot, error) {
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	ctype := compression.Type(buf[4])
	if n == 0 && ctype == compression.NoCompression {
		return Slot{}, nil
	}
	if n <= 0 || n > blockSize {
		return Slot{}, fmt.Errorf("%w: stored length %d outside (0, %d]", ErrCorruption, n, blockSize)
	}
	if !ctype.IsSupported() {
		return Slot{}, fmt.Errorf("%w: unknown compression type %d", ErrCorruption, buf[4])
	}
	return Slot{
		Written:     true,
		StoredLen:   n,
		Compression: ctype,
		Checksum:    binary.LittleEndian.Uint32(buf[slotHeaderSize+n:]),
		Payload:     buf[slotHeaderSize : slotHeaderSize+n],
	}, nil
}

// Verify checks the stored checksum against the payload.
func (s Slot) Verify(cs checksum.Type) error {
	if !s.Written || cs == checksum.TypeNoChecksum {
		return nil
	}
	if got := checksum.ComputeChecksum(cs, s.Payload, byte(s.Compression)); got != s.Checksum {
		return fmt.Errorf("%w: %s checksum mismatch: stored %#08x, computed %#08x", ErrCorruption, cs, s.Checksum, got)
	}
	return nil
}

// Decode returns the block contents held by the slot into p.
func (s Slot) Decode(p []byte) error {
	if !s.Written {
		clear(p)
		return nil
	}
	out, err := compression.Decompress(s.Compression, s.Payload, len(p))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if len(out) != len(p) {
		return fmt.Errorf("%w: decoded %d bytes, want %d", ErrCorruption, len(out), len(p))
	}
	copy(p, out)
	return nil
}
