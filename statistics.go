package bcache

// statistics.go implements the Statistics interface for collecting cache metrics.

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// TickerType represents different types of counters.
type TickerType int

const (
	// TickerCacheHit is the count of Acquire calls that found the block resident.
	TickerCacheHit TickerType = iota
	// TickerCacheMiss is the count of Acquire calls that had to relabel a buffer.
	TickerCacheMiss
	// TickerRecycle is the count of misses served from the home shard.
	TickerRecycle
	// TickerSteal is the count of misses served by moving a buffer from another shard.
	TickerSteal
	// TickerPoolExhausted is the count of Acquire calls that found no free buffer.
	TickerPoolExhausted
	// TickerDeviceReads is the count of successful device reads.
	TickerDeviceReads
	// TickerDeviceWrites is the count of successful device writes.
	TickerDeviceWrites
	// TickerDeviceBytesRead is the total bytes read from the device.
	TickerDeviceBytesRead
	// TickerDeviceBytesWritten is the total bytes written to the device.
	TickerDeviceBytesWritten
	// TickerDeviceErrors is the count of failed device reads and writes.
	TickerDeviceErrors
	// TickerPins is the count of successful Pin calls.
	TickerPins
	// TickerUnpins is the count of successful Unpin calls.
	TickerUnpins
	// TickerReleases is the count of Release calls.
	TickerReleases

	// TickerEnumMax is the maximum ticker type for sizing arrays.
	TickerEnumMax
)

var tickerNames = [TickerEnumMax]string{
	"bcache.hit",
	"bcache.miss",
	"bcache.recycle",
	"bcache.steal",
	"bcache.pool.exhausted",
	"bcache.device.reads",
	"bcache.device.writes",
	"bcache.device.bytes.read",
	"bcache.device.bytes.written",
	"bcache.device.errors",
	"bcache.pins",
	"bcache.unpins",
	"bcache.releases",
}

// String returns the name of the ticker type.
func (t TickerType) String() string {
	if t >= 0 && t < TickerEnumMax {
		return tickerNames[t]
	}
	return "unknown"
}

// HistogramType represents different types of histograms.
type HistogramType int

const (
	// HistogramDeviceReadMicros is the histogram for device read latency.
	HistogramDeviceReadMicros HistogramType = iota
	// HistogramDeviceWriteMicros is the histogram for device write latency.
	HistogramDeviceWriteMicros
	// HistogramLockWaitMicros is the time spent sleeping on a contended buffer lock.
	HistogramLockWaitMicros

	// HistogramEnumMax is the maximum histogram type for sizing arrays.
	HistogramEnumMax
)

var histogramNames = [HistogramEnumMax]string{
	"bcache.device.read.micros",
	"bcache.device.write.micros",
	"bcache.lock.wait.micros",
}

// String returns the name of the histogram type.
func (h HistogramType) String() string {
	if h >= 0 && h < HistogramEnumMax {
		return histogramNames[h]
	}
	return "unknown"
}

// HistogramData contains histogram statistics.
type HistogramData struct {
	Average float64 `json:"avg"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	Count   uint64  `json:"count"`
	Sum     uint64  `json:"sum"`
}

// Statistics collects and reports cache metrics.
type Statistics interface {
	// GetTickerCount returns the current value of a ticker.
	GetTickerCount(tickerType TickerType) uint64

	// RecordTick increments a ticker by count.
	RecordTick(tickerType TickerType, count uint64)

	// SetTickerCount sets the ticker to a specific value.
	SetTickerCount(tickerType TickerType, count uint64)

	// GetHistogramData returns histogram statistics.
	GetHistogramData(histogramType HistogramType) HistogramData

	// MeasureTime records a value to a histogram.
	MeasureTime(histogramType HistogramType, value uint64)

	// Reset clears all statistics.
	Reset()

	// String returns a formatted string of all statistics.
	String() string
}

// statisticsImpl is the default implementation of Statistics.
//
// Tickers are striped xsync counters: every Acquire bumps at least one, from
// every goroutine touching the cache.
type statisticsImpl struct {
	tickers    [TickerEnumMax]*xsync.Counter
	histograms [HistogramEnumMax]atomic.Pointer[histogramImpl]
}

type histogramImpl struct {
	min   atomic.Uint64
	max   atomic.Uint64
	sum   atomic.Uint64
	count atomic.Uint64
}

func newHistogram() *histogramImpl {
	h := &histogramImpl{}
	h.min.Store(^uint64(0))
	return h
}

// NewStatistics creates a new Statistics instance.
func NewStatistics() Statistics {
	s := &statisticsImpl{}
	for i := range s.tickers {
		s.tickers[i] = xsync.NewCounter()
	}
	for i := range s.histograms {
		s.histograms[i].Store(newHistogram())
	}
	return s
}

// GetTickerCount returns the current value of a ticker.
func (s *statisticsImpl) GetTickerCount(tickerType TickerType) uint64 {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return 0
	}
	return uint64(s.tickers[tickerType].Value())
}

// RecordTick increments a ticker by count.
func (s *statisticsImpl) RecordTick(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	s.tickers[tickerType].Add(int64(count))
}

// SetTickerCount sets the ticker to a specific value.
// Not atomic with respect to concurrent RecordTick calls.
func (s *statisticsImpl) SetTickerCount(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	c := s.tickers[tickerType]
	c.Reset()
	c.Add(int64(count))
}

// GetHistogramData returns histogram statistics.
func (s *statisticsImpl) GetHistogramData(histogramType HistogramType) HistogramData {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return HistogramData{}
	}

	h := s.histograms[histogramType].Load()
	count := h.count.Load()
	if count == 0 {
		return HistogramData{}
	}
	sum := h.sum.Load()

	return HistogramData{
		Count:   count,
		Sum:     sum,
		Min:     float64(h.min.Load()),
		Max:     float64(h.max.Load()),
		Average: float64(sum) / float64(count),
	}
}

// MeasureTime records a value to a histogram.
func (s *statisticsImpl) MeasureTime(histogramType HistogramType, value uint64) {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return
	}

	h := s.histograms[histogramType].Load()
	h.count.Add(1)
	h.sum.Add(value)

	for {
		old := h.min.Load()
		if value >= old || h.min.CompareAndSwap(old, value) {
			break
		}
	}
	for {
		old := h.max.Load()
		if value <= old || h.max.CompareAndSwap(old, value) {
			break
		}
	}
}

// Reset clears all statistics.
func (s *statisticsImpl) Reset() {
	for i := range s.tickers {
		s.tickers[i].Reset()
	}
	for i := range s.histograms {
		s.histograms[i].Store(newHistogram())
	}
}

// String returns a formatted string of all non-zero statistics.
func (s *statisticsImpl) String() string {
	var b strings.Builder

	b.WriteString("TICKERS:\n")
	for i := range TickerEnumMax {
		if count := s.GetTickerCount(i); count > 0 {
			fmt.Fprintf(&b, "  %s : %d\n", i, count)
		}
	}

	b.WriteString("\nHISTOGRAMS:\n")
	for i := range HistogramEnumMax {
		data := s.GetHistogramData(i)
		if data.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s :\n", i)
		fmt.Fprintf(&b, "    Count: %d\n", data.Count)
		fmt.Fprintf(&b, "    Avg: %.2f\n", data.Average)
		fmt.Fprintf(&b, "    Min: %.2f\n", data.Min)
		fmt.Fprintf(&b, "    Max: %.2f\n", data.Max)
	}

	return b.String()
}

// tickerMap returns every ticker by name, including zeros.
func tickerMap(s Statistics) map[string]uint64 {
	m := make(map[string]uint64, TickerEnumMax)
	for i := range TickerEnumMax {
		m[i.String()] = s.GetTickerCount(i)
	}
	return m
}
