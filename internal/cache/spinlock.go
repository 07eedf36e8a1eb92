package cache

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a busy-wait mutual exclusion lock.
//
// It is meant for critical sections of a few dozen instructions: list
// relinking and reference-count transitions. A waiter yields the processor
// between attempts but never parks. Holding a SpinLock across I/O or while
// waiting for any other lock that is not strictly ordered after it is a bug.
//
// The zero value is an unlocked SpinLock.
type SpinLock struct {
	state atomic.Uint32
}

// Lock acquires the lock, spinning until it is available.
func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking an unlocked SpinLock panics.
func (l *SpinLock) Unlock() {
	if l.state.Swap(0) == 0 {
		panic("cache: unlock of unlocked SpinLock")
	}
}

// Locked reports whether the lock is currently held by anyone.
func (l *SpinLock) Locked() bool {
	return l.state.Load() != 0
}
