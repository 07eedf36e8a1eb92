package bcache

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// testDevice is an in-memory Device with per-block error injection.
// With stamp set, blocks that were never written read as their block number
// (little-endian, first 8 bytes) instead of zeros.
type testDevice struct {
	mu       sync.Mutex
	blocks   map[Key][]byte
	readErr  map[Key]error
	writeErr map[Key]error
	stamp    bool

	reads  atomic.Int64
	writes atomic.Int64
}

func newTestDevice() *testDevice {
	return &testDevice{
		blocks:   make(map[Key][]byte),
		readErr:  make(map[Key]error),
		writeErr: make(map[Key]error),
	}
}

func (d *testDevice) ReadBlock(dev uint32, blockNo uint64, p []byte) error {
	k := Key{dev, blockNo}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.readErr[k]; err != nil {
		return err
	}
	d.reads.Add(1)
	if data, ok := d.blocks[k]; ok {
		copy(p, data)
		return nil
	}
	clear(p)
	if d.stamp {
		binary.LittleEndian.PutUint64(p, blockNo)
	}
	return nil
}

func (d *testDevice) WriteBlock(dev uint32, blockNo uint64, p []byte) error {
	k := Key{dev, blockNo}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeErr[k]; err != nil {
		return err
	}
	d.writes.Add(1)
	d.blocks[k] = append([]byte(nil), p...)
	return nil
}

func (d *testDevice) failRead(k Key, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.readErr, k)
	} else {
		d.readErr[k] = err
	}
}

func (d *testDevice) failWrite(k Key, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.writeErr, k)
	} else {
		d.writeErr[k] = err
	}
}

func (d *testDevice) block(k Key) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.blocks[k]...)
}
