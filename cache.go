package bcache

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/aalhour/bcache/internal/cache"
	"github.com/aalhour/bcache/internal/logging"
	"github.com/aalhour/bcache/internal/testutil"
)

// shard is one hash bucket of the pool: an LRU list of slots in the arena
// and the spin lock guarding it.
type shard struct {
	mu cache.SpinLock
}

// Cache is a fixed-size, sharded block buffer cache in front of a Device.
//
// Lock order: the eviction lock, then the home shard, then a donor shard.
// Only the holder of the eviction lock ever holds two shard locks. No spin
// lock is held while blocking on a buffer lock or doing device I/O.
type Cache struct {
	opts      Options
	dev       Device
	hash      HashFunc
	logger    Logger
	stats     Statistics
	listeners []EventListener

	lines  []line
	shards []shard
	arena  *cache.Arena
	evict  cache.SpinLock
	slab   []byte

	// tokens hands out buffer lock owner tokens; 0 is never issued.
	tokens atomic.Uint64
}

// New creates a cache over dev. A nil opts uses DefaultOptions.
func New(dev Device, opts *Options) (*Cache, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidOptions)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	o := *opts
	if o.ShardHash == nil {
		o.ShardHash = IdentityHash
	}
	o.Logger = logging.OrDefault(o.Logger)
	if o.Statistics == nil {
		o.Statistics = NewStatistics()
	}
	o.Listeners = slices.Clone(o.Listeners)

	n, s, bs := o.NumBuffers, o.NumShards, o.BlockSize
	c := &Cache{
		opts:      o,
		dev:       dev,
		hash:      o.ShardHash,
		logger:    o.Logger,
		stats:     o.Statistics,
		listeners: o.Listeners,
		lines:     make([]line, n),
		shards:    make([]shard, s),
		arena:     cache.NewArena(n, s),
		slab:      make([]byte, n*bs),
	}
	for i := range c.lines {
		c.lines[i].data = c.slab[i*bs : (i+1)*bs : (i+1)*bs]
		c.arena.PushFront(i%s, i)
	}

	c.logger.Infof("%spool ready: %d buffers of %d bytes in %d shards", logging.NSCache, n, bs, s)
	return c, nil
}

// Options returns a copy of the effective options.
func (c *Cache) Options() Options {
	o := c.opts
	o.Listeners = slices.Clone(c.listeners)
	return o
}

// BlockSize returns the size of every block in bytes.
func (c *Cache) BlockSize() int {
	return c.opts.BlockSize
}

// Statistics returns the statistics the cache records into.
func (c *Cache) Statistics() Statistics {
	return c.stats
}

func (c *Cache) shardOf(blockNo uint64) int {
	return int(c.hash(blockNo) % uint64(len(c.shards)))
}

// lookup scans list l front to back for the line holding k.
// Caller holds shard l.
func (c *Cache) lookup(l int, k Key) (int, bool) {
	for i := c.arena.Front(l); i != c.arena.Sentinel(l); i = c.arena.Next(i) {
		if c.lines[i].holds(k) {
			return i, true
		}
	}
	return -1, false
}

// lruFree scans list l back to front for an unreferenced line.
// Caller holds shard l.
func (c *Cache) lruFree(l int) int {
	for i := c.arena.Back(l); i != c.arena.Sentinel(l); i = c.arena.Prev(i) {
		if c.lines[i].refcnt == 0 {
			return i
		}
	}
	return -1
}

// Acquire returns the buffer for (dev, blockNo) locked by the caller, with
// one reference taken for this acquisition. The buffer may not be valid;
// use Read for read-through.
//
// Acquire blocks while another caller holds the same block. It fails with
// ErrNoBuffers when every buffer in the pool is referenced.
func (c *Cache) Acquire(dev uint32, blockNo uint64) (*Buf, error) {
	k := Key{Dev: dev, BlockNo: blockNo}
	home := c.shardOf(blockNo)
	_ = testutil.SP(testutil.SPAcquireStart)

	sh := &c.shards[home]
	sh.mu.Lock()
	if slot, ok := c.lookup(home, k); ok {
		c.lines[slot].refcnt++
		sh.mu.Unlock()
		return c.hit(slot, k), nil
	}
	if slot, ev, ok := c.recycleLocal(home, k); ok {
		sh.mu.Unlock()
		return c.recycled(slot, k, ev), nil
	}
	sh.mu.Unlock()

	return c.steal(home, k)
}

// recycleLocal relabels the least recently used free line of home for k.
// Caller holds shard home.
func (c *Cache) recycleLocal(home int, k Key) (int, BlockRecycledInfo, bool) {
	slot := c.lruFree(home)
	if slot < 0 {
		return -1, BlockRecycledInfo{}, false
	}
	ln := &c.lines[slot]
	ev := BlockRecycledInfo{
		Key:         k,
		Previous:    ln.key(),
		HadPrevious: ln.labeled,
		Slot:        slot,
		Shard:       home,
	}
	ln.relabel(k)
	return slot, ev, true
}

func (c *Cache) hit(slot int, k Key) *Buf {
	c.stats.RecordTick(TickerCacheHit, 1)
	_ = testutil.SPCallback(testutil.SPAcquireHit, slot)
	return c.lockLine(slot, k)
}

func (c *Cache) recycled(slot int, k Key, ev BlockRecycledInfo) *Buf {
	c.stats.RecordTick(TickerCacheMiss, 1)
	c.stats.RecordTick(TickerRecycle, 1)
	_ = testutil.SPCallback(testutil.SPAcquireRecycle, slot)
	for _, l := range c.listeners {
		l.OnBlockRecycled(&ev)
	}
	return c.lockLine(slot, k)
}

// steal is the slow path of Acquire, taken when home has no free line.
//
// The home lock was dropped before taking the eviction lock, so the hit and
// local recycle scans are repeated under it before looking at other shards.
func (c *Cache) steal(home int, k Key) (*Buf, error) {
	c.evict.Lock()
	sh := &c.shards[home]
	sh.mu.Lock()
	_ = testutil.SPCallback(testutil.SPStealEvictLocked, home)

	if slot, ok := c.lookup(home, k); ok {
		c.lines[slot].refcnt++
		c.evict.Unlock()
		sh.mu.Unlock()
		return c.hit(slot, k), nil
	}
	if slot, ev, ok := c.recycleLocal(home, k); ok {
		c.evict.Unlock()
		sh.mu.Unlock()
		return c.recycled(slot, k, ev), nil
	}

	// A buffer freed in a donor behind the scan would be missed, so the
	// donors are scanned twice before the pool is declared exhausted.
	n := len(c.shards)
	for range 2 {
		for i := 1; i < n; i++ {
			donor := (home + i) % n
			dsh := &c.shards[donor]
			dsh.mu.Lock()
			_ = testutil.SPCallback(testutil.SPStealDonorLocked, donor)

			slot := c.lruFree(donor)
			if slot < 0 {
				dsh.mu.Unlock()
				continue
			}

			ln := &c.lines[slot]
			ev := BlockStolenInfo{
				Key:         k,
				Previous:    ln.key(),
				HadPrevious: ln.labeled,
				Slot:        slot,
				FromShard:   donor,
				ToShard:     home,
			}
			c.arena.Remove(slot)
			c.arena.PushFront(home, slot)
			ln.relabel(k)

			dsh.mu.Unlock()
			c.evict.Unlock()
			sh.mu.Unlock()

			c.stats.RecordTick(TickerCacheMiss, 1)
			c.stats.RecordTick(TickerSteal, 1)
			c.logger.Debugf("%sshard %d has no free buffer, took slot %d from shard %d for %v",
				logging.NSSteal, home, slot, donor, k)
			for _, l := range c.listeners {
				l.OnBlockStolen(&ev)
			}
			_ = testutil.SPCallback(testutil.SPStealComplete, slot)
			return c.lockLine(slot, k), nil
		}
	}

	c.evict.Unlock()
	sh.mu.Unlock()
	return nil, c.exhausted(k)
}

func (c *Cache) exhausted(k Key) error {
	c.stats.RecordTick(TickerPoolExhausted, 1)
	c.logger.Fatalf("%sno free buffer for %v: all %d buffers referenced", logging.NSCache, k, len(c.lines))
	info := PoolExhaustedInfo{Key: k, NumBuffers: len(c.lines)}
	for _, l := range c.listeners {
		l.OnPoolExhausted(&info)
	}
	_ = testutil.SP(testutil.SPAcquireExhausted)
	return fmt.Errorf("%w: acquiring %v", ErrNoBuffers, k)
}

// lockLine takes the buffer lock of slot for a new acquisition of k.
// The caller already holds a reference, so the line cannot be relabeled.
func (c *Cache) lockLine(slot int, k Key) *Buf {
	token := c.tokens.Add(1)
	ln := &c.lines[slot]
	_ = testutil.SPCallback(testutil.SPAcquireBeforeSleep, slot)
	if !ln.lock.TryLock(token) {
		start := time.Now()
		ln.lock.Lock(token)
		c.stats.MeasureTime(HistogramLockWaitMicros, uint64(time.Since(start).Microseconds()))
	}
	return &Buf{c: c, slot: slot, token: token, key: k}
}

// mustHold returns b's line, or panics with ErrNotHeld if the caller does not
// hold its lock.
func (c *Cache) mustHold(b *Buf, op string) *line {
	var err error
	switch {
	case b == nil:
		err = fmt.Errorf("%w: %s of nil buffer", ErrNotHeld, op)
	case b.c != c:
		err = fmt.Errorf("%w: %s of %v from another cache", ErrNotHeld, op, b.key)
	case !c.lines[b.slot].lock.HeldBy(b.token):
		err = fmt.Errorf("%w: %s of %v (slot %d)", ErrNotHeld, op, b.key, b.slot)
	default:
		return &c.lines[b.slot]
	}
	c.logger.Fatalf("%s%v", logging.NSCache, err)
	panic(err)
}

// Read returns the buffer for (dev, blockNo) locked by the caller, with its
// contents read from the device if they were not cached.
//
// On a device error the buffer is released and the error is returned; the
// block stays uncached.
func (c *Cache) Read(dev uint32, blockNo uint64) (*Buf, error) {
	b, err := c.Acquire(dev, blockNo)
	if err != nil {
		return nil, err
	}
	ln := &c.lines[b.slot]
	if ln.valid.Load() {
		return b, nil
	}

	_ = testutil.SPCallback(testutil.SPReadBeforeDevice, b.slot)
	start := time.Now()
	err = c.dev.ReadBlock(dev, blockNo, ln.data)
	c.stats.MeasureTime(HistogramDeviceReadMicros, uint64(time.Since(start).Microseconds()))
	if err != nil {
		c.Release(b)
		return nil, c.deviceError("read", b.key, err)
	}
	ln.valid.Store(true)
	c.stats.RecordTick(TickerDeviceReads, 1)
	c.stats.RecordTick(TickerDeviceBytesRead, uint64(len(ln.data)))
	return b, nil
}

// Commit writes the buffer contents to the device. The caller must hold b.
// Commit neither releases b nor changes its references.
//
// On a device error the buffer is marked invalid so that the next Read
// fetches the device contents again.
func (c *Cache) Commit(b *Buf) error {
	ln := c.mustHold(b, "Commit")

	_ = testutil.SPCallback(testutil.SPCommitBeforeDevice, b.slot)
	start := time.Now()
	err := c.dev.WriteBlock(b.key.Dev, b.key.BlockNo, ln.data)
	c.stats.MeasureTime(HistogramDeviceWriteMicros, uint64(time.Since(start).Microseconds()))
	if err != nil {
		ln.valid.Store(false)
		return c.deviceError("write", b.key, err)
	}
	ln.valid.Store(true)
	c.stats.RecordTick(TickerDeviceWrites, 1)
	c.stats.RecordTick(TickerDeviceBytesWritten, uint64(len(ln.data)))
	return nil
}

func (c *Cache) deviceError(op string, k Key, err error) error {
	c.stats.RecordTick(TickerDeviceErrors, 1)
	c.logger.Errorf("%s%s dev=%d block=%d: %v", logging.NSDevice, op, k.Dev, k.BlockNo, err)
	info := DeviceErrorInfo{Key: k, Op: op, Err: err}
	for _, l := range c.listeners {
		l.OnDeviceError(&info)
	}
	return fmt.Errorf("bcache: %s dev=%d block=%d: %w", op, k.Dev, k.BlockNo, err)
}

// Release unlocks b and drops the reference taken by its acquisition. When
// the last reference goes, the buffer becomes the most recently used free
// buffer of its shard. b must not be used afterwards.
func (c *Cache) Release(b *Buf) {
	ln := c.mustHold(b, "Release")
	ln.lock.Unlock(b.token)
	_ = testutil.SPCallback(testutil.SPReleaseLineUnlocked, b.slot)

	home := c.shardOf(b.key.BlockNo)
	sh := &c.shards[home]
	sh.mu.Lock()
	ln.refcnt--
	if ln.refcnt == 0 {
		c.arena.MoveToFront(home, b.slot)
	}
	sh.mu.Unlock()
	c.stats.RecordTick(TickerReleases, 1)
}

// Pin adds a reference to the resident block (dev, blockNo) so it cannot be
// recycled. It does not lock the buffer. Pin of a block that is not resident
// returns ErrNotCached.
func (c *Cache) Pin(dev uint32, blockNo uint64) error {
	return c.adjustKey(Key{Dev: dev, BlockNo: blockNo}, +1)
}

// Unpin drops a reference taken by Pin. Unpin of a block with no references
// returns ErrNotPinned.
func (c *Cache) Unpin(dev uint32, blockNo uint64) error {
	return c.adjustKey(Key{Dev: dev, BlockNo: blockNo}, -1)
}

func (c *Cache) adjustKey(k Key, delta int32) error {
	home := c.shardOf(k.BlockNo)
	sh := &c.shards[home]
	sh.mu.Lock()
	slot, ok := c.lookup(home, k)
	if !ok {
		sh.mu.Unlock()
		if delta > 0 {
			return fmt.Errorf("%w: %v", ErrNotCached, k)
		}
		return fmt.Errorf("%w: %v", ErrNotPinned, k)
	}
	err := c.adjustLocked(slot, k, delta)
	sh.mu.Unlock()
	return err
}

// adjustRef is Pin/Unpin on the slot a handle was issued for. After Release
// the slot may have been stolen into another shard, so it is only trusted
// when the home shard of k still links it for k.
func (c *Cache) adjustRef(slot int, k Key, delta int32) error {
	home := c.shardOf(k.BlockNo)
	sh := &c.shards[home]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if found, ok := c.lookup(home, k); !ok || found != slot {
		if delta > 0 {
			return fmt.Errorf("%w: %v", ErrNotCached, k)
		}
		return fmt.Errorf("%w: %v", ErrNotPinned, k)
	}
	return c.adjustLocked(slot, k, delta)
}

// adjustLocked changes the references of slot by delta.
// Caller holds the shard of k, and slot is linked there holding k.
func (c *Cache) adjustLocked(slot int, k Key, delta int32) error {
	ln := &c.lines[slot]
	if delta > 0 {
		ln.refcnt += delta
		c.stats.RecordTick(TickerPins, 1)
		return nil
	}
	if ln.refcnt+delta < 0 {
		return fmt.Errorf("%w: %v", ErrNotPinned, k)
	}
	ln.refcnt += delta
	c.stats.RecordTick(TickerUnpins, 1)
	return nil
}
