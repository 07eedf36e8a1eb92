package bcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenericRateLimiterUnlimited(t *testing.T) {
	rl := NewGenericRateLimiter(0)
	assert.Zero(t, rl.GetBytesPerSecond())

	start := time.Now()
	rl.Request(1<<30, IOPriorityHigh)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, int64(1<<30), rl.GetTotalBytesThrough(IOPriorityHigh))
	assert.Equal(t, int64(1), rl.GetTotalRequests(IOPriorityHigh))
	assert.Zero(t, rl.GetTotalRequests(IOPriorityLow))
}

func TestGenericRateLimiterThrottles(t *testing.T) {
	rl := NewGenericRateLimiter(1000)
	assert.Equal(t, int64(1000), rl.GetBytesPerSecond())

	// The bucket starts full; the next 500 bytes wait for a refill.
	rl.Request(1000, IOPriorityLow)
	start := time.Now()
	rl.Request(500, IOPriorityLow)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestGenericRateLimiterLargeRequest(t *testing.T) {
	rl := NewGenericRateLimiter(1 << 20)

	// Larger than the bucket: charged in pieces instead of failing.
	done := make(chan struct{})
	go func() {
		rl.Request(3<<19, IOPriorityHigh)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("oversized request never completed")
	}
	assert.Equal(t, int64(3<<19), rl.GetTotalBytesThrough(IOPriorityHigh))
}

func TestGenericRateLimiterSetRate(t *testing.T) {
	rl := NewGenericRateLimiter(10)
	rl.SetBytesPerSecond(1 << 20)
	assert.Equal(t, int64(1<<20), rl.GetBytesPerSecond())

	rl.SetBytesPerSecond(0)
	assert.Zero(t, rl.GetBytesPerSecond())

	assert.Zero(t, rl.GetTotalBytesThrough(IOPriorityTotal))
	rl.Request(0, IOPriorityHigh)
	assert.Zero(t, rl.GetTotalRequests(IOPriorityHigh))
}

func TestThrottledDeviceModes(t *testing.T) {
	tests := []struct {
		mode       RateLimiterMode
		wantReads  int64
		wantWrites int64
	}{
		{RateLimiterModeReadsOnly, 1, 0},
		{RateLimiterModeWritesOnly, 0, 1},
		{RateLimiterModeAllIO, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			rl := NewGenericRateLimiter(0)
			c := newTestCache(t, NewThrottledDevice(newTestDevice(), rl, tt.mode), 2, 1)

			b, err := c.Read(1, 1)
			require.NoError(t, err)
			require.NoError(t, c.Commit(b))
			c.Release(b)

			assert.Equal(t, tt.wantReads, rl.GetTotalRequests(IOPriorityHigh))
			assert.Equal(t, tt.wantWrites, rl.GetTotalRequests(IOPriorityLow))
			assert.Equal(t, tt.wantReads*64, rl.GetTotalBytesThrough(IOPriorityHigh))
		})
	}
	assert.Equal(t, "unknown", RateLimiterMode(9).String())
}
