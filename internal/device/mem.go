package device

import (
	"sync"
	"sync/atomic"
	"time"
)

type blockKey struct {
	dev   uint32
	block uint64
}

// MemDevice is a map-backed device.
type MemDevice struct {
	blockSize int
	latency   time.Duration

	mu     sync.RWMutex
	blocks map[blockKey][]byte

	reads  atomic.Int64
	writes atomic.Int64
}

// NewMemDevice creates an empty in-memory device.
func NewMemDevice(blockSize int) *MemDevice {
	return &MemDevice{
		blockSize: blockSize,
		blocks:    make(map[blockKey][]byte),
	}
}

// SetLatency makes every operation sleep for d before completing.
// Call before the device is shared.
func (d *MemDevice) SetLatency(latency time.Duration) {
	d.latency = latency
}

// ReadBlock implements bcache.Device.
func (d *MemDevice) ReadBlock(dev uint32, blockNo uint64, p []byte) error {
	if err := checkSize(p, d.blockSize); err != nil {
		return err
	}
	d.delay()
	d.reads.Add(1)

	d.mu.RLock()
	data, ok := d.blocks[blockKey{dev, blockNo}]
	if ok {
		copy(p, data)
	}
	d.mu.RUnlock()
	if !ok {
		clear(p)
	}
	return nil
}

// WriteBlock implements bcache.Device.
func (d *MemDevice) WriteBlock(dev uint32, blockNo uint64, p []byte) error {
	if err := checkSize(p, d.blockSize); err != nil {
		return err
	}
	d.delay()
	d.writes.Add(1)

	data := append([]byte(nil), p...)
	d.mu.Lock()
	d.blocks[blockKey{dev, blockNo}] = data
	d.mu.Unlock()
	return nil
}

func (d *MemDevice) delay() {
	if d.latency > 0 {
		time.Sleep(d.latency)
	}
}

// Reads returns the number of ReadBlock calls.
func (d *MemDevice) Reads() int64 { return d.reads.Load() }

// Writes returns the number of WriteBlock calls.
func (d *MemDevice) Writes() int64 { return d.writes.Load() }

// Len returns the number of blocks ever written.
func (d *MemDevice) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.blocks)
}
