//go:build synctest

package bcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/bcache/internal/testutil"
)

func TestStealLockOrder(t *testing.T) {
	sp := testutil.EnableSyncPoints()
	defer testutil.DisableSyncPoints()

	c := newTestCache(t, newTestDevice(), 6, 3)

	var donors []int
	sp.SetCallback(testutil.SPStealEvictLocked, func(_ string, arg any) error {
		home := arg.(int)
		if !c.evict.Locked() || !c.shards[home].mu.Locked() {
			t.Errorf("home %d: eviction and home locks must be held", home)
		}
		return nil
	})
	sp.SetCallback(testutil.SPStealDonorLocked, func(_ string, arg any) error {
		donor := arg.(int)
		donors = append(donors, donor)
		if !c.evict.Locked() || !c.shards[0].mu.Locked() || !c.shards[donor].mu.Locked() {
			t.Errorf("donor %d: eviction, home and donor locks must be held", donor)
		}
		return nil
	})

	// Fill shards 0 and 1 so that block 6 (home 0) must visit donor 1 then 2.
	var held []*Buf
	for _, blockNo := range []uint64{0, 3, 1, 4} {
		b, err := c.Acquire(1, blockNo)
		require.NoError(t, err)
		held = append(held, b)
	}
	b, err := c.Acquire(1, 6)
	require.NoError(t, err)
	held = append(held, b)

	assert.Equal(t, []int{1, 2}, donors)
	assert.Equal(t, int64(1), sp.GetHitCount(testutil.SPStealEvictLocked))
	assert.Equal(t, int64(1), sp.GetHitCount(testutil.SPStealComplete))
	assert.False(t, c.evict.Locked(), "eviction lock must be released")

	for _, h := range held {
		c.Release(h)
	}
	require.NoError(t, c.Verify())
}

func TestReleaseUnlocksBeforeShardLock(t *testing.T) {
	sp := testutil.EnableSyncPoints()
	defer testutil.DisableSyncPoints()

	c := newTestCache(t, newTestDevice(), 2, 1)
	b, err := c.Acquire(1, 1)
	require.NoError(t, err)

	reached := make(chan struct{})
	resume := make(chan struct{})
	sp.SetCallback(testutil.SPReleaseLineUnlocked, func(string, any) error {
		close(reached)
		<-resume
		return nil
	})

	done := make(chan struct{})
	go func() {
		c.Release(b)
		close(done)
	}()

	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("Release never reached the sync point")
	}

	// The buffer lock is free while the reference is still counted.
	assert.False(t, c.lines[b.Slot()].lock.Locked())
	assert.Equal(t, 1, c.Stats().Referenced)

	close(resume)
	<-done
	assert.Zero(t, c.Stats().Referenced)
}

func TestReadReportsSlotBeforeDevice(t *testing.T) {
	sp := testutil.EnableSyncPoints()
	defer testutil.DisableSyncPoints()

	c := newTestCache(t, newTestDevice(), 2, 1)
	var slot int
	sp.SetCallback(testutil.SPReadBeforeDevice, func(_ string, arg any) error {
		slot = arg.(int)
		return nil
	})

	b, err := c.Read(1, 8)
	require.NoError(t, err)
	assert.Equal(t, b.Slot(), slot)
	c.Release(b)
}

func TestStealRescansDonors(t *testing.T) {
	sp := testutil.EnableSyncPoints()
	defer testutil.DisableSyncPoints()

	c := newTestCache(t, newTestDevice(), 6, 3)

	held := make(map[uint64]*Buf)
	for blockNo := range uint64(6) {
		b, err := c.Acquire(1, blockNo)
		require.NoError(t, err)
		held[blockNo] = b
	}

	// Free a buffer of shard 1 while the scan is already at shard 2.
	var donors []int
	sp.SetCallback(testutil.SPStealDonorLocked, func(_ string, arg any) error {
		donor := arg.(int)
		donors = append(donors, donor)
		if donor == 2 && held[1] != nil {
			c.Release(held[1])
			held[1] = nil
		}
		return nil
	})

	freed := held[1].Slot()
	b, err := c.Acquire(1, 6)
	require.NoError(t, err)
	assert.Equal(t, freed, b.Slot())
	assert.Equal(t, []int{1, 2, 1}, donors)
	assert.Zero(t, c.Statistics().GetTickerCount(TickerPoolExhausted))
	c.Release(b)

	for _, h := range held {
		if h != nil {
			c.Release(h)
		}
	}
	require.NoError(t, c.Verify())
}
