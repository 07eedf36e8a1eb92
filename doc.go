/*
Package bcache provides a fixed-capacity, sharded block buffer cache that sits
between a storage-consuming layer and a slow block-addressable Device.

The cache keeps a fixed pool of block-sized buffers. Buffers are distributed
across shards; a block (dev, blockNo) always lives in the shard chosen by
hashing its block number. Each shard keeps its buffers on an LRU list guarded
by a short spin lock. When a shard has no free buffer, the cache steals the
least recently used free buffer from another shard under a single global
eviction lock.

# Usage

	c, err := bcache.New(dev, bcache.DefaultOptions())
	if err != nil {
		return err
	}

	b, err := c.Read(1, 42) // read-through, returns the block locked
	if err != nil {
		return err
	}
	copy(b.Data(), payload)
	if err := c.Commit(b); err != nil { // write-through
		c.Release(b)
		return err
	}
	c.Release(b)

# Concurrency

A Cache is safe for concurrent use. A Buf returned by Acquire or Read is held
exclusively by the caller until Release: no other goroutine can observe or
modify its contents meanwhile. A Buf must not be used after Release, except
for Unpin of a pin taken while it was held.

Capacity is fixed. When every buffer is referenced, Acquire fails with
ErrNoBuffers; it never waits for a buffer to become free.
*/
package bcache
