// Stress test for bcache
//
// Many goroutines read, write and pin a shared key space through one cache
// that is much smaller than the key space, so lines are recycled and stolen
// constantly. An expected-version oracle checks every read.
//
// KEY DESIGN FEATURES:
//   - Block contents carry [blockNo:8][version:8] followed by a fill derived
//     from both, so a torn or misplaced buffer is detected.
//   - The oracle version of a block only changes while its buffer is held,
//     which makes "read under the buffer lock" an exact check.
//   - A verifier goroutine runs Cache.Verify on a period.
//   - At the end every touched block is read back through a fresh cache over
//     a reopened device, which checks the write-through round trip.
//
// Usage: go run ./cmd/stresstest [flags]
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/aalhour/bcache"
	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
	"github.com/aalhour/bcache/internal/device"
	"github.com/aalhour/bcache/internal/logging"
	"github.com/aalhour/bcache/internal/vfs"
)

var (
	// Test configuration
	duration     = flag.Duration("duration", 10*time.Second, "Test duration")
	numBlocks    = flag.Uint64("blocks", 1000, "Number of blocks in the key space")
	numThreads   = flag.Int("threads", 8, "Number of concurrent workers")
	numBuffers   = flag.Int("buffers", 30, "Buffers in the pool")
	numShards    = flag.Int("shards", 13, "Shards in the pool")
	blockSize    = flag.Int("block-size", 1024, "Block size in bytes (>= 16)")
	shardHash    = flag.String("hash", "identity", "Shard hash: identity, xxh3")
	verifyPeriod = flag.Duration("verify-period", 100*time.Millisecond, "Period between pool invariant checks (0 to disable)")
	seed         = flag.Int64("seed", 0, "Random seed (0 for time-based)")
	verbose      = flag.Bool("v", false, "Verbose output")

	// Operation weights
	readWeight  = flag.Int("read", 60, "Read operation weight")
	writeWeight = flag.Int("write", 30, "Write operation weight")
	pinWeight   = flag.Int("pin", 10, "Pin/unpin operation weight")

	// Device options
	deviceKind      = flag.String("device", "mem", "Device: mem, file")
	dir             = flag.String("dir", "", "Device directory for -device=file (default: temp directory)")
	keep            = flag.Bool("keep", false, "Keep the device directory after the test")
	latency         = flag.Duration("latency", 0, "Per-operation latency of the mem device")
	compressionType = flag.String("compression", "none", "Compression for -device=file")
	checksumType    = flag.String("checksum", "crc32c", "Checksum for -device=file")
	rateLimit       = flag.Int64("rate", 0, "Device throughput limit in bytes/sec (0 to disable)")
)

// Stats tracks operation counts.
type Stats struct {
	reads      atomic.Uint64
	writes     atomic.Uint64
	pins       atomic.Uint64
	exhausted  atomic.Uint64
	verifies   atomic.Uint64
	errors     atomic.Uint64
	verifyFail atomic.Uint64
}

func (s *Stats) total() uint64 {
	return s.reads.Load() + s.writes.Load() + s.pins.Load()
}

// stressConfig is the flag set as seen by one run.
type stressConfig struct {
	duration     time.Duration
	blocks       uint64
	threads      int
	opts         bcache.Options
	verifyPeriod time.Duration
	seed         int64
	readWeight   int
	writeWeight  int
	pinWeight    int

	deviceKind  string
	dir         string
	latency     time.Duration
	compression compression.Type
	checksum    checksum.Type
	rate        int64
}

func main() {
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	level := logging.LevelWarn
	if *verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(os.Stderr, level)

	cfg, err := configFromFlags(logger)
	if err != nil {
		fmt.Printf("invalid flags: %v\n", err)
		os.Exit(2)
	}

	if cfg.deviceKind == "file" && cfg.dir == "" {
		cfg.dir, err = os.MkdirTemp("", "bcache-stress-*")
		if err != nil {
			fmt.Printf("create temp dir: %v\n", err)
			os.Exit(1)
		}
		if !*keep {
			defer os.RemoveAll(cfg.dir)
		}
	}

	printBanner(cfg)

	stats := &Stats{}
	runErr := runStress(cfg, stats)
	printStats(stats)

	if runErr != nil {
		fmt.Printf("\n❌ STRESS TEST FAILED: %v\n", runErr)
		os.Exit(1)
	}
	if stats.errors.Load() > 0 || stats.verifyFail.Load() > 0 {
		fmt.Println("❌ STRESS TEST FAILED")
		os.Exit(1)
	}
	fmt.Println("✅ STRESS TEST PASSED")
}

func configFromFlags(logger logging.Logger) (stressConfig, error) {
	cfg := stressConfig{
		duration:     *duration,
		blocks:       *numBlocks,
		threads:      *numThreads,
		verifyPeriod: *verifyPeriod,
		seed:         *seed,
		readWeight:   *readWeight,
		writeWeight:  *writeWeight,
		pinWeight:    *pinWeight,
		deviceKind:   *deviceKind,
		dir:          *dir,
		latency:      *latency,
		rate:         *rateLimit,
		opts: bcache.Options{
			NumBuffers: *numBuffers,
			NumShards:  *numShards,
			BlockSize:  *blockSize,
			Logger:     logger,
		},
	}
	switch *shardHash {
	case "identity":
		cfg.opts.ShardHash = bcache.IdentityHash
	case "xxh3":
		cfg.opts.ShardHash = bcache.XXH3Hash
	default:
		return cfg, fmt.Errorf("unknown hash %q", *shardHash)
	}
	var err error
	if cfg.compression, err = compression.ParseType(*compressionType); err != nil {
		return cfg, err
	}
	if cfg.checksum, err = checksum.ParseType(*checksumType); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (cfg stressConfig) validate() error {
	if cfg.opts.BlockSize < headerSize {
		return fmt.Errorf("block size %d is below %d", cfg.opts.BlockSize, headerSize)
	}
	if cfg.blocks == 0 {
		return errors.New("empty key space")
	}
	if cfg.threads < 1 {
		return errors.New("need at least one worker")
	}
	if cfg.readWeight+cfg.writeWeight+cfg.pinWeight <= 0 {
		return errors.New("operation weights sum to zero")
	}
	if cfg.deviceKind != "mem" && cfg.deviceKind != "file" {
		return fmt.Errorf("unknown device %q", cfg.deviceKind)
	}
	return cfg.opts.Validate()
}

func printBanner(cfg stressConfig) {
	line := func(content string) {
		fmt.Printf("║ %-63s ║\n", content)
	}

	fmt.Println("╔═════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     bcache Stress Test                          ║")
	fmt.Println("╠═════════════════════════════════════════════════════════════════╣")
	line(fmt.Sprintf("Duration: %-10s Blocks: %-10d Threads: %-6d", cfg.duration, cfg.blocks, cfg.threads))
	line(fmt.Sprintf("Seed: %-20d", cfg.seed))
	line(fmt.Sprintf("Buffers: %-6d Shards: %-6d Block Size: %-6d", cfg.opts.NumBuffers, cfg.opts.NumShards, cfg.opts.BlockSize))
	fmt.Println("╠─────────────────────────────────────────────────────────────────╣")
	line(fmt.Sprintf("Weights: read=%d write=%d pin=%d", cfg.readWeight, cfg.writeWeight, cfg.pinWeight))
	line(fmt.Sprintf("Device: %-6s Compression: %-8s Checksum: %-8s", cfg.deviceKind, cfg.compression, cfg.checksum))
	fmt.Println("╚═════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func printStats(stats *Stats) {
	fmt.Println()
	fmt.Println("══════════════════════════════════════════════════════════════════")
	fmt.Println("                      FINAL STATISTICS                            ")
	fmt.Println("──────────────────────────────────────────────────────────────────")
	fmt.Printf("Operations:\n")
	fmt.Printf("  Reads:       %12d\n", stats.reads.Load())
	fmt.Printf("  Writes:      %12d\n", stats.writes.Load())
	fmt.Printf("  Pins:        %12d\n", stats.pins.Load())
	fmt.Printf("  Exhausted:   %12d\n", stats.exhausted.Load())

	fmt.Printf("\nVerification:\n")
	fmt.Printf("  Pool Checks: %12d passed\n", stats.verifies.Load())
	fmt.Printf("  Failures:    %12d\n", stats.verifyFail.Load())
	fmt.Printf("  Errors:      %12d\n", stats.errors.Load())

	fmt.Printf("\nTotal Operations: %d\n", stats.total())
	fmt.Println("══════════════════════════════════════════════════════════════════")
}

// openDevice returns the device plus a function that closes it.
func openDevice(cfg stressConfig) (bcache.Device, func() error, error) {
	var dev bcache.Device
	closeFn := func() error { return nil }

	switch cfg.deviceKind {
	case "mem":
		m := device.NewMemDevice(cfg.opts.BlockSize)
		m.SetLatency(cfg.latency)
		dev = m
	case "file":
		f, err := device.OpenFileDevice(vfs.Default(), cfg.dir, device.FileOptions{
			BlockSize:   cfg.opts.BlockSize,
			Compression: cfg.compression,
			Checksum:    cfg.checksum,
			Logger:      cfg.opts.Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		dev, closeFn = f, f.Close
	}

	if cfg.rate > 0 {
		dev = bcache.NewThrottledDevice(dev, bcache.NewGenericRateLimiter(cfg.rate), bcache.RateLimiterModeAllIO)
	}
	return dev, closeFn, nil
}

// oracle tracks the last committed version of every block.
type oracle struct {
	versions []atomic.Uint64

	mu      sync.Mutex
	touched *roaring64.Bitmap
}

func newOracle(blocks uint64) *oracle {
	return &oracle{
		versions: make([]atomic.Uint64, blocks),
		touched:  roaring64.New(),
	}
}

func (o *oracle) touch(blockNo uint64) {
	o.mu.Lock()
	o.touched.Add(blockNo)
	o.mu.Unlock()
}

func (o *oracle) touchedBlocks() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.touched.ToArray()
}

const (
	stressDev  = 1
	headerSize = 16
)

func runStress(cfg stressConfig, stats *Stats) error {
	dev, closeDev, err := openDevice(cfg)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	opts := cfg.opts
	c, err := bcache.New(dev, &opts)
	if err != nil {
		_ = closeDev()
		return err
	}

	logger := logging.OrDefault(cfg.opts.Logger)
	logger.Infof("%s%d workers over %d blocks for %s", logging.NSStress, cfg.threads, cfg.blocks, cfg.duration)

	o := newOracle(cfg.blocks)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.threads {
		g.Go(func() error {
			runWorker(gctx, i, cfg, c, o, stats)
			return nil
		})
	}
	if cfg.verifyPeriod > 0 {
		g.Go(func() error {
			return runVerifier(gctx, cfg.verifyPeriod, c, stats)
		})
	}
	if err := g.Wait(); err != nil {
		_ = closeDev()
		return err
	}

	if err := c.Verify(); err != nil {
		_ = closeDev()
		return fmt.Errorf("final pool check: %w", err)
	}
	s := c.Stats()
	logger.Infof("%sworkers done: %d resident, hits=%d steals=%d", logging.NSStress,
		s.Resident, s.Tickers["bcache.hit"], s.Tickers["bcache.steal"])
	if s.Referenced != 0 {
		_ = closeDev()
		return fmt.Errorf("%d buffers still referenced after all workers stopped", s.Referenced)
	}

	// File devices are reopened so the check goes through the image on disk.
	if cfg.deviceKind == "file" {
		if err := closeDev(); err != nil {
			return fmt.Errorf("close device: %w", err)
		}
		if dev, closeDev, err = openDevice(cfg); err != nil {
			return fmt.Errorf("reopen device: %w", err)
		}
	}
	defer closeDev()

	fmt.Println("\n🔍 Running final verification...")
	return verifyAll(cfg, dev, o, stats)
}

func runVerifier(ctx context.Context, period time.Duration, c *bcache.Cache, stats *Stats) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Verify(); err != nil {
				return fmt.Errorf("pool check: %w", err)
			}
			stats.verifies.Add(1)
		}
	}
}

func runWorker(ctx context.Context, threadID int, cfg stressConfig, c *bcache.Cache, o *oracle, stats *Stats) {
	// Per-thread seed keeps a run reproducible from -seed.
	rng := rand.New(rand.NewSource(cfg.seed + int64(threadID*1000)))
	totalWeight := cfg.readWeight + cfg.writeWeight + cfg.pinWeight

	for ctx.Err() == nil {
		blockNo := rng.Uint64() % cfg.blocks
		pick := rng.Intn(totalWeight)

		var err error
		switch {
		case pick < cfg.readWeight:
			err = doRead(c, o, stats, blockNo)
		case pick < cfg.readWeight+cfg.writeWeight:
			err = doWrite(c, o, stats, blockNo)
		default:
			err = doPin(c, o, stats, blockNo)
		}

		switch {
		case err == nil:
		case errors.Is(err, bcache.ErrNoBuffers):
			// Every buffer is held by another worker; back off.
			stats.exhausted.Add(1)
			time.Sleep(time.Microsecond * time.Duration(rng.Intn(100)))
		case errors.Is(err, errMismatch):
			stats.verifyFail.Add(1)
			fmt.Printf("❌ thread %d: %v\n", threadID, err)
		default:
			stats.errors.Add(1)
			fmt.Printf("❌ thread %d: %v\n", threadID, err)
		}
	}
}

var errMismatch = errors.New("content mismatch")

func doRead(c *bcache.Cache, o *oracle, stats *Stats, blockNo uint64) error {
	b, err := c.Read(stressDev, blockNo)
	if err != nil {
		return err
	}
	defer c.Release(b)
	stats.reads.Add(1)
	return checkBlock(b.Data(), blockNo, o.versions[blockNo].Load())
}

func doWrite(c *bcache.Cache, o *oracle, stats *Stats, blockNo uint64) error {
	b, err := c.Read(stressDev, blockNo)
	if err != nil {
		return err
	}
	defer c.Release(b)

	version := o.versions[blockNo].Load()
	if err := checkBlock(b.Data(), blockNo, version); err != nil {
		return err
	}
	fillBlock(b.Data(), blockNo, version+1)
	if err := c.Commit(b); err != nil {
		return err
	}
	o.versions[blockNo].Store(version + 1)
	o.touch(blockNo)
	stats.writes.Add(1)
	return nil
}

// doPin keeps the block resident across a release, then drops the pin by key.
func doPin(c *bcache.Cache, o *oracle, stats *Stats, blockNo uint64) error {
	b, err := c.Read(stressDev, blockNo)
	if err != nil {
		return err
	}
	if err := b.Pin(); err != nil {
		c.Release(b)
		return err
	}
	c.Release(b)
	stats.pins.Add(1)

	if err := c.Pin(stressDev, blockNo); err != nil {
		return fmt.Errorf("pin resident block %d: %w", blockNo, err)
	}
	if err := c.Unpin(stressDev, blockNo); err != nil {
		return err
	}
	return c.Unpin(stressDev, blockNo)
}

// verifyAll reads every touched block through a fresh cache over dev and
// compares it with the oracle.
func verifyAll(cfg stressConfig, dev bcache.Device, o *oracle, stats *Stats) error {
	opts := cfg.opts
	c, err := bcache.New(dev, &opts)
	if err != nil {
		return err
	}

	failures := 0
	for _, blockNo := range o.touchedBlocks() {
		b, err := c.Read(stressDev, blockNo)
		if err != nil {
			return fmt.Errorf("read block %d: %w", blockNo, err)
		}
		if err := checkBlock(b.Data(), blockNo, o.versions[blockNo].Load()); err != nil {
			failures++
			stats.verifyFail.Add(1)
			fmt.Printf("❌ %v\n", err)
		}
		c.Release(b)
	}
	if failures > 0 {
		return fmt.Errorf("%d verification failures", failures)
	}
	return nil
}

// fillBlock writes [blockNo:8][version:8] followed by deterministic filler.
func fillBlock(p []byte, blockNo, version uint64) {
	binary.LittleEndian.PutUint64(p[0:8], blockNo)
	binary.LittleEndian.PutUint64(p[8:16], version)
	for i := headerSize; i < len(p); i++ {
		p[i] = byte((blockNo + version + uint64(i)) % 256)
	}
}

// checkBlock verifies p against the oracle. Version 0 means never written,
// which reads as zeros.
func checkBlock(p []byte, blockNo, version uint64) error {
	if version == 0 {
		for i, v := range p {
			if v != 0 {
				return fmt.Errorf("%w: block %d unwritten but byte %d is %#x", errMismatch, blockNo, i, v)
			}
		}
		return nil
	}
	if got := binary.LittleEndian.Uint64(p[0:8]); got != blockNo {
		return fmt.Errorf("%w: block %d holds block %d", errMismatch, blockNo, got)
	}
	if got := binary.LittleEndian.Uint64(p[8:16]); got != version {
		return fmt.Errorf("%w: block %d version %d, want %d", errMismatch, blockNo, got, version)
	}
	for i := headerSize; i < len(p); i++ {
		if p[i] != byte((blockNo+version+uint64(i))%256) {
			return fmt.Errorf("%w: block %d torn at byte %d", errMismatch, blockNo, i)
		}
	}
	return nil
}
