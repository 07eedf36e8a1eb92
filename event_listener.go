package bcache

// event_listener.go implements the EventListener interface for receiving pool events.

import (
	"sync"
)

// BlockRecycledInfo describes a miss served by a free buffer of the home shard.
type BlockRecycledInfo struct {
	// Key is the block the buffer now holds.
	Key Key
	// Previous is the block the buffer held before, if HadPrevious.
	Previous Key
	// HadPrevious is false when the buffer had never been used.
	HadPrevious bool
	// Slot is the pool index of the buffer.
	Slot int
	// Shard is the home shard of Key.
	Shard int
}

// BlockStolenInfo describes a miss served by moving a free buffer from
// another shard.
type BlockStolenInfo struct {
	Key         Key
	Previous    Key
	HadPrevious bool
	Slot        int
	// FromShard is the donor shard.
	FromShard int
	// ToShard is the home shard of Key.
	ToShard int
}

// PoolExhaustedInfo describes an Acquire that found every buffer referenced.
type PoolExhaustedInfo struct {
	Key        Key
	NumBuffers int
}

// DeviceErrorInfo describes a failed device read or write.
type DeviceErrorInfo struct {
	Key Key
	// Op is "read" or "write".
	Op  string
	Err error
}

// EventListener receives notifications about pool events.
// Callbacks run on the goroutine that triggered the event, after every spin
// lock of the cache has been released. They should be thread-safe and
// non-blocking.
type EventListener interface {
	// OnBlockRecycled is called when a miss relabels a buffer of the home shard.
	OnBlockRecycled(info *BlockRecycledInfo)

	// OnBlockStolen is called when a miss moves a buffer from another shard.
	OnBlockStolen(info *BlockStolenInfo)

	// OnPoolExhausted is called when Acquire fails with ErrNoBuffers.
	OnPoolExhausted(info *PoolExhaustedInfo)

	// OnDeviceError is called when a device read or write fails.
	OnDeviceError(info *DeviceErrorInfo)
}

// NoOpEventListener is a default implementation that does nothing.
// Embed this in your listener if you only want to handle specific events.
type NoOpEventListener struct{}

func (l *NoOpEventListener) OnBlockRecycled(info *BlockRecycledInfo) {}
func (l *NoOpEventListener) OnBlockStolen(info *BlockStolenInfo)     {}
func (l *NoOpEventListener) OnPoolExhausted(info *PoolExhaustedInfo) {}
func (l *NoOpEventListener) OnDeviceError(info *DeviceErrorInfo)     {}

// CountingEventListener counts events for testing purposes.
type CountingEventListener struct {
	NoOpEventListener
	RecycleCount   int
	StealCount     int
	ExhaustedCount int
	ErrorCount     int
	// Evicted lists blocks that lost their buffer, in event order.
	Evicted []Key
	mu      sync.Mutex
}

func (l *CountingEventListener) OnBlockRecycled(info *BlockRecycledInfo) {
	l.mu.Lock()
	l.RecycleCount++
	if info.HadPrevious {
		l.Evicted = append(l.Evicted, info.Previous)
	}
	l.mu.Unlock()
}

func (l *CountingEventListener) OnBlockStolen(info *BlockStolenInfo) {
	l.mu.Lock()
	l.StealCount++
	if info.HadPrevious {
		l.Evicted = append(l.Evicted, info.Previous)
	}
	l.mu.Unlock()
}

func (l *CountingEventListener) OnPoolExhausted(info *PoolExhaustedInfo) {
	l.mu.Lock()
	l.ExhaustedCount++
	l.mu.Unlock()
}

func (l *CountingEventListener) OnDeviceError(info *DeviceErrorInfo) {
	l.mu.Lock()
	l.ErrorCount++
	l.mu.Unlock()
}

// Snapshot returns the counts under the listener's lock.
func (l *CountingEventListener) Snapshot() (recycled, stolen, exhausted, errs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.RecycleCount, l.StealCount, l.ExhaustedCount, l.ErrorCount
}
