package bcache

// event_listener_test.go implements tests for event listeners.

import (
	"errors"
	"testing"
)

func TestNoOpEventListener(t *testing.T) {
	var l EventListener = &NoOpEventListener{}

	// Just verify it doesn't panic
	l.OnBlockRecycled(&BlockRecycledInfo{})
	l.OnBlockStolen(&BlockStolenInfo{})
	l.OnPoolExhausted(&PoolExhaustedInfo{})
	l.OnDeviceError(&DeviceErrorInfo{Err: errors.New("boom")})
}

func TestCountingEventListener(t *testing.T) {
	l := &CountingEventListener{}

	l.OnBlockRecycled(&BlockRecycledInfo{Key: Key{1, 2}})
	l.OnBlockRecycled(&BlockRecycledInfo{Key: Key{1, 3}, Previous: Key{1, 2}, HadPrevious: true})
	l.OnBlockStolen(&BlockStolenInfo{Key: Key{1, 4}, Previous: Key{2, 9}, HadPrevious: true})
	l.OnPoolExhausted(&PoolExhaustedInfo{})
	l.OnDeviceError(&DeviceErrorInfo{})

	recycled, stolen, exhausted, errs := l.Snapshot()
	if recycled != 2 {
		t.Errorf("RecycleCount = %d, want 2", recycled)
	}
	if stolen != 1 {
		t.Errorf("StealCount = %d, want 1", stolen)
	}
	if exhausted != 1 {
		t.Errorf("ExhaustedCount = %d, want 1", exhausted)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
	if len(l.Evicted) != 2 || l.Evicted[0] != (Key{1, 2}) || l.Evicted[1] != (Key{2, 9}) {
		t.Errorf("Evicted = %v, want [(1,2) (2,9)]", l.Evicted)
	}
}

func TestEventListenerInterface(t *testing.T) {
	var _ EventListener = &NoOpEventListener{}
	var _ EventListener = &CountingEventListener{}
}
