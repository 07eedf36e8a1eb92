package device

import (
	"errors"
	"fmt"
	"io"

	"github.com/aalhour/bcache/internal/vfs"
)

// ScanImage calls fn for every slot of the image at path, in block order.
// Slots that fail to decode are passed as a zero Slot with the error.
// s.Payload is only valid until fn returns. Returning a non-nil error from fn stops the scan and is returned.
func ScanImage(fs vfs.FS, path string, blockSize int, fn func(blockNo uint64, s Slot, err error) error) error {
	f, err := fs.OpenFile(path, false)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	size, err := f.Size()
	if err != nil {
		return err
	}
	slotSize := int64(SlotSize(blockSize))
	if size%slotSize != 0 {
		return fmt.Errorf("%w: image size %d is not a multiple of slot size %d", ErrCorruption, size, slotSize)
	}

	buf := make([]byte, slotSize)
	for blockNo := uint64(0); int64(blockNo)*slotSize < size; blockNo++ {
		if _, err := f.ReadAt(buf, int64(blockNo)*slotSize); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		slot, derr := decodeSlot(buf, blockSize)
		if err := fn(blockNo, slot, derr); err != nil {
			return err
		}
	}
	return nil
}
