//go:build synctest

// Package testutil provides test utilities for concurrency testing.
//
// SyncPoints are named locations in the cache engine where tests can:
//   - Observe that a code path ran, and with which argument
//   - Force specific orderings of concurrent operations
//   - Block a goroutine at a point until the test releases it
//
// Usage:
//
//	// In engine code (compiled to a no-op without -tags synctest):
//	_ = testutil.SPCallback(testutil.SPStealDonorLocked, donor)
//
//	// In test code:
//	sp := testutil.EnableSyncPoints()
//	defer testutil.DisableSyncPoints()
//	sp.SetCallback(testutil.SPStealDonorLocked, func(name string, arg any) error {
//	    // inspect state while the engine is paused here
//	    return nil
//	})
package testutil

import (
	"sync"
	"sync/atomic"
	"time"
)

// SyncPointManager manages sync points for a test.
type SyncPointManager struct {
	mu sync.RWMutex

	enabled atomic.Bool

	callbacks map[string][]SyncPointCallback
	hitCounts map[string]int64

	// blockedPoints are points where execution will wait until cleared.
	blockedPoints map[string]chan struct{}

	errorInjections map[string]error

	// dependencies["B"] = ["A"] means B cannot proceed until A is hit.
	dependencies      map[string][]string
	dependencySignals map[string]chan struct{}
}

// SyncPointCallback is called when a sync point is reached. arg is the value
// passed by the engine (nil for SP). A returned error is propagated to the
// caller of SP.
type SyncPointCallback func(name string, arg any) error

// SyncPointDependency defines an ordering: After point waits for Before point.
type SyncPointDependency struct {
	Before string
	After  string
}

var globalSyncPointManager atomic.Pointer[SyncPointManager]

// NewSyncPointManager creates a new SyncPointManager.
func NewSyncPointManager() *SyncPointManager {
	return &SyncPointManager{
		callbacks:         make(map[string][]SyncPointCallback),
		hitCounts:         make(map[string]int64),
		blockedPoints:     make(map[string]chan struct{}),
		errorInjections:   make(map[string]error),
		dependencies:      make(map[string][]string),
		dependencySignals: make(map[string]chan struct{}),
	}
}

// EnableProcessing enables sync point processing.
func (sp *SyncPointManager) EnableProcessing() { sp.enabled.Store(true) }

// DisableProcessing disables sync point processing.
func (sp *SyncPointManager) DisableProcessing() { sp.enabled.Store(false) }

// IsEnabled returns whether sync point processing is enabled.
func (sp *SyncPointManager) IsEnabled() bool { return sp.enabled.Load() }

// SetGlobal sets this manager as the global sync point manager.
func (sp *SyncPointManager) SetGlobal() { globalSyncPointManager.Store(sp) }

// ClearGlobal clears the global sync point manager.
func ClearGlobal() { globalSyncPointManager.Store(nil) }

// SetCallback registers a callback for a sync point.
func (sp *SyncPointManager) SetCallback(name string, cb SyncPointCallback) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.callbacks[name] = append(sp.callbacks[name], cb)
}

// ClearCallback removes all callbacks for a sync point.
func (sp *SyncPointManager) ClearCallback(name string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	delete(sp.callbacks, name)
}

// SetErrorInjection sets an error to be returned when a sync point is reached.
func (sp *SyncPointManager) SetErrorInjection(name string, err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.errorInjections[name] = err
}

// BlockSyncPoint causes execution to block at the named sync point until
// ClearSyncPoint is called.
func (sp *SyncPointManager) BlockSyncPoint(name string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if _, exists := sp.blockedPoints[name]; !exists {
		sp.blockedPoints[name] = make(chan struct{})
	}
}

// ClearSyncPoint releases every goroutine blocked at the named sync point.
// Later arrivals pass through.
func (sp *SyncPointManager) ClearSyncPoint(name string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if ch, exists := sp.blockedPoints[name]; exists {
		close(ch)
		delete(sp.blockedPoints, name)
	}
}

// ClearAllSyncPoints releases all blocked sync points.
func (sp *SyncPointManager) ClearAllSyncPoints() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for _, ch := range sp.blockedPoints {
		close(ch)
	}
	sp.blockedPoints = make(map[string]chan struct{})
}

// LoadDependency sets up ordering dependencies: each After point waits
// until its Before point has been hit.
func (sp *SyncPointManager) LoadDependency(deps []SyncPointDependency) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for _, dep := range deps {
		sp.dependencies[dep.After] = append(sp.dependencies[dep.After], dep.Before)
		if _, exists := sp.dependencySignals[dep.Before]; !exists {
			sp.dependencySignals[dep.Before] = make(chan struct{})
		}
	}
}

// GetHitCount returns the number of times a sync point was hit.
func (sp *SyncPointManager) GetHitCount(name string) int64 {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.hitCounts[name]
}

// Reset clears all callbacks, blocks, dependencies, and hit counts, and
// disables processing.
func (sp *SyncPointManager) Reset() {
	sp.ClearAllSyncPoints()

	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.callbacks = make(map[string][]SyncPointCallback)
	sp.hitCounts = make(map[string]int64)
	sp.errorInjections = make(map[string]error)
	sp.dependencies = make(map[string][]string)
	sp.dependencySignals = make(map[string]chan struct{})
	sp.enabled.Store(false)
}

// Process is called when a sync point is reached.
func (sp *SyncPointManager) Process(name string, arg any) error {
	if !sp.enabled.Load() {
		return nil
	}

	sp.waitForDependencies(name)
	sp.waitIfBlocked(name)

	sp.mu.Lock()
	sp.hitCounts[name]++
	if sig, exists := sp.dependencySignals[name]; exists {
		select {
		case <-sig:
		default:
			close(sig)
		}
	}
	callbacks := sp.callbacks[name]
	injected := sp.errorInjections[name]
	sp.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(name, arg); err != nil {
			return err
		}
	}
	return injected
}

func (sp *SyncPointManager) waitForDependencies(name string) {
	sp.mu.RLock()
	deps := sp.dependencies[name]
	signals := make([]chan struct{}, 0, len(deps))
	for _, dep := range deps {
		if sig, exists := sp.dependencySignals[dep]; exists {
			signals = append(signals, sig)
		}
	}
	sp.mu.RUnlock()

	for _, sig := range signals {
		<-sig
	}
}

func (sp *SyncPointManager) waitIfBlocked(name string) {
	sp.mu.RLock()
	ch, blocked := sp.blockedPoints[name]
	sp.mu.RUnlock()
	if blocked {
		<-ch
	}
}

// WaitUntilHit blocks until the named sync point has been hit at least once.
// Returns false if timeout elapsed first.
func (sp *SyncPointManager) WaitUntilHit(name string, timeout time.Duration) bool {
	return sp.WaitUntilHitCount(name, 1, timeout)
}

// WaitUntilHitCount blocks until the named sync point has been hit at least n times.
func (sp *SyncPointManager) WaitUntilHitCount(name string, n int64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sp.GetHitCount(name) >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
