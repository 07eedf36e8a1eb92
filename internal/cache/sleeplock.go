package cache

import (
	"fmt"
	"sync"
)

// SleepLock is a long-held lock whose waiters block instead of spinning.
//
// Each acquisition is tagged with a non-zero owner token so the holder can
// later prove it holds the lock. Goroutines have no identity of their own;
// the token stands in for one.
//
// The zero value is an unlocked SleepLock.
type SleepLock struct {
	mu     sync.Mutex
	cond   sync.Cond
	locked bool
	owner  uint64
}

func (l *SleepLock) init() {
	if l.cond.L == nil {
		l.cond.L = &l.mu
	}
}

// Lock blocks until the lock is free and takes it on behalf of owner.
func (l *SleepLock) Lock(owner uint64) {
	if owner == 0 {
		panic("cache: SleepLock owner token must be non-zero")
	}
	l.mu.Lock()
	l.init()
	for l.locked {
		l.cond.Wait()
	}
	l.locked = true
	l.owner = owner
	l.mu.Unlock()
}

// TryLock takes the lock on behalf of owner if it is free.
func (l *SleepLock) TryLock(owner uint64) bool {
	if owner == 0 {
		panic("cache: SleepLock owner token must be non-zero")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return false
	}
	l.locked = true
	l.owner = owner
	return true
}

// Unlock releases the lock. It panics if owner does not hold it.
func (l *SleepLock) Unlock(owner uint64) {
	l.mu.Lock()
	l.init()
	if !l.locked || l.owner != owner {
		held, cur := l.locked, l.owner
		l.mu.Unlock()
		panic(fmt.Sprintf("cache: SleepLock unlock by %d (locked=%v owner=%d)", owner, held, cur))
	}
	l.locked = false
	l.owner = 0
	l.cond.Signal()
	l.mu.Unlock()
}

// HeldBy reports whether owner currently holds the lock.
func (l *SleepLock) HeldBy(owner uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked && l.owner == owner
}

// Locked reports whether anyone holds the lock.
func (l *SleepLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
