package bcache

import (
	"fmt"
)

// ShardStats describes the occupancy of one shard.
type ShardStats struct {
	Lines      int `json:"lines"`
	Referenced int `json:"referenced"`
	Valid      int `json:"valid"`
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	NumBuffers int `json:"num_buffers"`
	NumShards  int `json:"num_shards"`
	BlockSize  int `json:"block_size"`

	// Resident counts buffers labeled with a block.
	Resident   int `json:"resident"`
	Valid      int `json:"valid"`
	Referenced int `json:"referenced"`

	Shards  []ShardStats      `json:"shards"`
	Tickers map[string]uint64 `json:"tickers"`
}

// Stats returns a snapshot of the pool. Shards are visited one at a time,
// so the totals may not describe a single instant under concurrent use.
func (c *Cache) Stats() Stats {
	st := Stats{
		NumBuffers: len(c.lines),
		NumShards:  len(c.shards),
		BlockSize:  c.opts.BlockSize,
		Shards:     make([]ShardStats, len(c.shards)),
	}
	for s := range c.shards {
		sh := &c.shards[s]
		sh.mu.Lock()
		var ss ShardStats
		for i := c.arena.Front(s); i != c.arena.Sentinel(s); i = c.arena.Next(i) {
			ln := &c.lines[i]
			ss.Lines++
			if ln.refcnt > 0 {
				ss.Referenced++
			}
			if ln.labeled && ln.valid.Load() {
				ss.Valid++
			}
			if ln.labeled {
				st.Resident++
			}
		}
		sh.mu.Unlock()
		st.Shards[s] = ss
		st.Valid += ss.Valid
		st.Referenced += ss.Referenced
	}
	st.Tickers = tickerMap(c.stats)
	return st
}

// Verify checks the structural invariants of the pool with every spin lock
// held: each buffer is on exactly one shard list, each labeled buffer is on
// the shard its block number hashes to, no block is held by two buffers, no
// reference count is negative, and no unreferenced buffer is locked. Errors wrap ErrInvariant.
//
// Verify takes the eviction lock and then all shard locks in index order, so
// it never runs concurrently with a steal.
func (c *Cache) Verify() error {
	c.evict.Lock()
	defer c.evict.Unlock()
	for s := range c.shards {
		c.shards[s].mu.Lock()
	}
	defer func() {
		for s := len(c.shards) - 1; s >= 0; s-- {
			c.shards[s].mu.Unlock()
		}
	}()

	seen := make([]int, len(c.lines))
	for i := range seen {
		seen[i] = -1
	}
	owners := make(map[Key]int, len(c.lines))

	for s := range c.shards {
		for i := c.arena.Front(s); i != c.arena.Sentinel(s); i = c.arena.Next(i) {
			if i < 0 || i >= len(c.lines) {
				return fmt.Errorf("%w: shard %d links foreign index %d", ErrInvariant, s, i)
			}
			if seen[i] >= 0 {
				return fmt.Errorf("%w: slot %d on shards %d and %d", ErrInvariant, i, seen[i], s)
			}
			seen[i] = s

			ln := &c.lines[i]
			if ln.refcnt < 0 {
				return fmt.Errorf("%w: slot %d refcnt %d", ErrInvariant, i, ln.refcnt)
			}
			if ln.refcnt == 0 && ln.lock.Locked() {
				return fmt.Errorf("%w: slot %d locked with no references", ErrInvariant, i)
			}
			if !ln.labeled {
				continue
			}
			k := ln.key()
			if home := c.shardOf(k.BlockNo); home != s {
				return fmt.Errorf("%w: slot %d holds %v on shard %d, home is %d", ErrInvariant, i, k, s, home)
			}
			if other, dup := owners[k]; dup {
				return fmt.Errorf("%w: %v held by slots %d and %d", ErrInvariant, k, other, i)
			}
			owners[k] = i
		}
	}

	for i, s := range seen {
		if s < 0 {
			return fmt.Errorf("%w: slot %d on no shard", ErrInvariant, i)
		}
	}
	return nil
}
