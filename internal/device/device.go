// Package device provides the block devices that back a bcache.Cache.
//
// Every device stores fixed-size blocks addressed by (dev, blockNo) and reads
// blocks that were never written as zeros:
//   - MemDevice keeps blocks in a map, for tests and the stress driver
//   - FileDevice keeps one checksummed image file per device id on a vfs.FS
//   - ObjectDevice keeps one object per block in an ObjectStore (MinIO/S3)
package device

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruption is returned when a stored block fails validation.
	ErrCorruption = errors.New("device: corruption")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device: closed")

	// ErrBlockSize is returned when a buffer does not match the block size.
	ErrBlockSize = errors.New("device: wrong block size")
)

func checkSize(p []byte, blockSize int) error {
	if len(p) != blockSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBlockSize, len(p), blockSize)
	}
	return nil
}
