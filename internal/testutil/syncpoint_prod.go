//go:build synctest

package testutil

import "sync/atomic"

// syncPointEnabled gates processing so that disabled sync points cost one
// atomic load.
var syncPointEnabled atomic.Bool

// SP processes the named sync point.
func SP(name string) error {
	return SPCallback(name, nil)
}

// SPCallback processes a sync point, handing arg to its callbacks.
func SPCallback(name string, arg any) error {
	if !syncPointEnabled.Load() {
		return nil
	}
	mgr := globalSyncPointManager.Load()
	if mgr == nil {
		return nil
	}
	return mgr.Process(name, arg)
}

// EnableSyncPoints installs a fresh, enabled global manager and returns it.
func EnableSyncPoints() *SyncPointManager {
	mgr := NewSyncPointManager()
	mgr.EnableProcessing()
	mgr.SetGlobal()
	syncPointEnabled.Store(true)
	return mgr
}

// DisableSyncPoints releases any blocked points and removes the global manager.
func DisableSyncPoints() {
	syncPointEnabled.Store(false)
	if mgr := globalSyncPointManager.Load(); mgr != nil {
		mgr.ClearAllSyncPoints()
	}
	ClearGlobal()
}
