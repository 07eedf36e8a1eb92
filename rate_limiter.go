// rate_limiter.go implements a Rate Limiter for device I/O.
package bcache

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiterMode specifies when rate limiting should be applied.
type RateLimiterMode int

const (
	// RateLimiterModeReadsOnly applies rate limiting only to reads.
	RateLimiterModeReadsOnly RateLimiterMode = iota
	// RateLimiterModeWritesOnly applies rate limiting only to writes.
	RateLimiterModeWritesOnly
	// RateLimiterModeAllIO applies rate limiting to all I/O.
	RateLimiterModeAllIO
)

// String returns the config name of the mode.
func (m RateLimiterMode) String() string {
	switch m {
	case RateLimiterModeReadsOnly:
		return "reads"
	case RateLimiterModeWritesOnly:
		return "writes"
	case RateLimiterModeAllIO:
		return "all"
	default:
		return "unknown"
	}
}

// IOPriority specifies the priority of I/O operations.
type IOPriority int

const (
	// IOPriorityLow is for write-through commits.
	IOPriorityLow IOPriority = iota
	// IOPriorityHigh is for read misses, which a caller is blocked on.
	IOPriorityHigh
	// IOPriorityTotal is the count of priorities.
	IOPriorityTotal
)

// RateLimiter controls the rate of I/O operations.
type RateLimiter interface {
	// Request requests bytes to be written/read.
	// It blocks until enough quota is available.
	Request(bytes int64, priority IOPriority)

	// SetBytesPerSecond dynamically sets the rate limit.
	SetBytesPerSecond(bytesPerSecond int64)

	// GetBytesPerSecond returns the current rate limit.
	GetBytesPerSecond() int64

	// GetTotalBytesThrough returns total bytes passed through the limiter.
	GetTotalBytesThrough(priority IOPriority) int64

	// GetTotalRequests returns total request count.
	GetTotalRequests(priority IOPriority) int64
}

// GenericRateLimiter is a token bucket over golang.org/x/time/rate. The
// bucket holds one second worth of bytes.
type GenericRateLimiter struct {
	mu      sync.Mutex // serializes SetBytesPerSecond
	limiter *rate.Limiter

	totalBytesThrough [IOPriorityTotal]atomic.Int64
	totalRequests     [IOPriorityTotal]atomic.Int64
}

// NewGenericRateLimiter creates a limiter allowing bytesPerSecond.
// A non-positive rate disables limiting.
func NewGenericRateLimiter(bytesPerSecond int64) *GenericRateLimiter {
	rl := &GenericRateLimiter{}
	rl.limiter = rate.NewLimiter(limitOf(bytesPerSecond), burstOf(bytesPerSecond))
	return rl
}

func limitOf(bytesPerSecond int64) rate.Limit {
	if bytesPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(bytesPerSecond)
}

func burstOf(bytesPerSecond int64) int {
	if bytesPerSecond <= 0 {
		return 0
	}
	return int(bytesPerSecond)
}

// Request blocks until bytes may pass. Requests larger than the bucket are
// charged in bucket-sized pieces.
func (rl *GenericRateLimiter) Request(bytes int64, priority IOPriority) {
	if bytes <= 0 {
		return
	}
	if priority >= 0 && priority < IOPriorityTotal {
		rl.totalRequests[priority].Add(1)
		rl.totalBytesThrough[priority].Add(bytes)
	}

	for bytes > 0 {
		n := bytes
		if burst := int64(rl.limiter.Burst()); burst > 0 && n > burst {
			n = burst
		}
		// Background never cancels and n never exceeds the burst, so WaitN
		// only fails if the limit is lowered concurrently; retry then.
		if err := rl.limiter.WaitN(context.Background(), int(n)); err != nil {
			continue
		}
		bytes -= n
	}
}

// SetBytesPerSecond dynamically sets the rate limit.
func (rl *GenericRateLimiter) SetBytesPerSecond(bytesPerSecond int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetBurst(burstOf(bytesPerSecond))
	rl.limiter.SetLimit(limitOf(bytesPerSecond))
}

// GetBytesPerSecond returns the current rate limit, or 0 when unlimited.
func (rl *GenericRateLimiter) GetBytesPerSecond() int64 {
	l := rl.limiter.Limit()
	if l == rate.Inf {
		return 0
	}
	return int64(l)
}

// GetTotalBytesThrough returns total bytes passed through the limiter.
func (rl *GenericRateLimiter) GetTotalBytesThrough(priority IOPriority) int64 {
	if priority < 0 || priority >= IOPriorityTotal {
		return 0
	}
	return rl.totalBytesThrough[priority].Load()
}

// GetTotalRequests returns total request count.
func (rl *GenericRateLimiter) GetTotalRequests(priority IOPriority) int64 {
	if priority < 0 || priority >= IOPriorityTotal {
		return 0
	}
	return rl.totalRequests[priority].Load()
}

// ThrottledDevice charges a RateLimiter for the I/O of an underlying Device.
type ThrottledDevice struct {
	dev     Device
	limiter RateLimiter
	mode    RateLimiterMode
}

// NewThrottledDevice wraps dev so that the operations selected by mode wait
// on limiter before running.
func NewThrottledDevice(dev Device, limiter RateLimiter, mode RateLimiterMode) *ThrottledDevice {
	return &ThrottledDevice{dev: dev, limiter: limiter, mode: mode}
}

// ReadBlock implements Device.
func (d *ThrottledDevice) ReadBlock(dev uint32, blockNo uint64, p []byte) error {
	if d.mode != RateLimiterModeWritesOnly {
		d.limiter.Request(int64(len(p)), IOPriorityHigh)
	}
	return d.dev.ReadBlock(dev, blockNo, p)
}

// WriteBlock implements Device.
func (d *ThrottledDevice) WriteBlock(dev uint32, blockNo uint64, p []byte) error {
	if d.mode != RateLimiterModeReadsOnly {
		d.limiter.Request(int64(len(p)), IOPriorityLow)
	}
	return d.dev.WriteBlock(dev, blockNo, p)
}
