package device

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
	"github.com/aalhour/bcache/internal/logging"
	"github.com/aalhour/bcache/internal/vfs"
)

// LockFileName is held while a FileDevice has its directory open.
const LockFileName = "LOCK"

// FileOptions configures a FileDevice.
type FileOptions struct {
	// BlockSize is the size of every block. Required.
	BlockSize int

	// Compression is applied to each block when it makes the block smaller.
	// Default: NoCompression
	Compression compression.Type

	// Checksum protects each stored block.
	// Default: TypeNoChecksum (set TypeCRC32C or TypeXXH3 to verify reads)
	Checksum checksum.Type

	// Logger receives image open and corruption messages.
	Logger logging.Logger
}

// FileDevice stores device id N in the image file "dev-N.img" of a directory.
//
// Images are opened on first use and created when missing.
type FileDevice struct {
	fs     vfs.FS
	dir    string
	opts   FileOptions
	logger logging.Logger
	lock   io.Closer

	slotPool sync.Pool

	mu     sync.RWMutex
	images map[uint32]vfs.File
	closed bool
}

// ImageName returns the file name of the image for device id dev.
func ImageName(dev uint32) string {
	return fmt.Sprintf("dev-%d.img", dev)
}

// OpenFileDevice opens (creating if needed) the image directory dir on fs and
// locks it.
func OpenFileDevice(fs vfs.FS, dir string, opts FileOptions) (*FileDevice, error) {
	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("device: block size must be > 0, got %d", opts.BlockSize)
	}
	if !opts.Compression.IsSupported() {
		return nil, fmt.Errorf("device: unsupported compression %s", opts.Compression)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("device: create %s: %w", dir, err)
	}
	lock, err := fs.Lock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, fmt.Errorf("device: lock %s: %w", dir, err)
	}

	d := &FileDevice{
		fs:     fs,
		dir:    dir,
		opts:   opts,
		logger: logging.OrDefault(opts.Logger),
		lock:   lock,
		images: make(map[uint32]vfs.File),
	}
	size := SlotSize(opts.BlockSize)
	d.slotPool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	d.logger.Infof("%sopened image dir %s (block %d, compression %s, checksum %s)",
		logging.NSDevice, dir, opts.BlockSize, opts.Compression, opts.Checksum)
	return d, nil
}

// BlockSize returns the configured block size.
func (d *FileDevice) BlockSize() int { return d.opts.BlockSize }

func (d *FileDevice) image(dev uint32) (vfs.File, error) {
	d.mu.RLock()
	f, ok := d.images[dev]
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return f, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if f, ok := d.images[dev]; ok {
		return f, nil
	}
	path := filepath.Join(d.dir, ImageName(dev))
	f, err := d.fs.OpenFile(path, true)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	d.images[dev] = f
	d.logger.Debugf("%sopened image %s", logging.NSDevice, path)
	return f, nil
}

func (d *FileDevice) offset(blockNo uint64) int64 {
	return int64(blockNo) * int64(SlotSize(d.opts.BlockSize))
}

// ReadBlock implements bcache.Device.
func (d *FileDevice) ReadBlock(dev uint32, blockNo uint64, p []byte) error {
	if err := checkSize(p, d.opts.BlockSize); err != nil {
		return err
	}
	f, err := d.image(dev)
	if err != nil {
		return err
	}

	bp := d.slotPool.Get().(*[]byte)
	defer d.slotPool.Put(bp)
	buf := *bp

	n, err := f.ReadAt(buf, d.offset(blockNo))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("device: read %s block %d: %w", ImageName(dev), blockNo, err)
	}
	// Past the end of the image: never written.
	clear(buf[n:])

	slot, err := decodeSlot(buf, d.opts.BlockSize)
	if err == nil {
		err = slot.Verify(d.opts.Checksum)
	}
	if err == nil {
		err = slot.Decode(p)
	}
	if err != nil {
		d.logger.Errorf("%s%s block %d: %v", logging.NSDevice, ImageName(dev), blockNo, err)
		return fmt.Errorf("%s block %d: %w", ImageName(dev), blockNo, err)
	}
	return nil
}

// WriteBlock implements bcache.Device.
func (d *FileDevice) WriteBlock(dev uint32, blockNo uint64, p []byte) error {
	if err := checkSize(p, d.opts.BlockSize); err != nil {
		return err
	}
	f, err := d.image(dev)
	if err != nil {
		return err
	}

	bp := d.slotPool.Get().(*[]byte)
	defer d.slotPool.Put(bp)
	buf := *bp

	if err := encodeSlot(buf, p, d.opts.Compression, d.opts.Checksum); err != nil {
		return fmt.Errorf("device: encode %s block %d: %w", ImageName(dev), blockNo, err)
	}
	if _, err := f.WriteAt(buf, d.offset(blockNo)); err != nil {
		return fmt.Errorf("device: write %s block %d: %w", ImageName(dev), blockNo, err)
	}
	return nil
}

// Sync flushes every open image to stable storage.
func (d *FileDevice) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	for dev, f := range d.images {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("device: sync %s: %w", ImageName(dev), err)
		}
	}
	return nil
}

// Close syncs and closes every image and releases the directory lock.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for dev, f := range d.images {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", ImageName(dev), err))
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ImageName(dev), err))
		}
	}
	d.images = nil
	if err := d.lock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	return errors.Join(errs...)
}
