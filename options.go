package bcache

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/aalhour/bcache/internal/logging"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// HashFunc maps a block number to a shard selector. The shard is
// HashFunc(blockNo) mod NumShards.
type HashFunc func(blockNo uint64) uint64

// IdentityHash uses the block number itself. Sequential blocks land in
// consecutive shards.
func IdentityHash(blockNo uint64) uint64 {
	return blockNo
}

// XXH3Hash hashes the little-endian block number with XXH3. Use it when block
// numbers share a stride with the shard count.
func XXH3Hash(blockNo uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], blockNo)
	return xxh3.Hash(b[:])
}

// Options configures a Cache.
type Options struct {
	// NumBuffers is the number of block buffers in the pool.
	// Must be at least NumShards.
	// Default: 30
	NumBuffers int

	// NumShards is the number of shards (hash buckets). Choose a prime to
	// spread block numbers evenly under IdentityHash.
	// Default: 13
	NumShards int

	// BlockSize is the size in bytes of every block.
	// Default: 1024
	BlockSize int

	// ShardHash selects the shard of a block number.
	// If nil, IdentityHash is used.
	ShardHash HashFunc

	// Statistics collects cache metrics.
	// If nil, a private Statistics is created; Stats still reports tickers.
	Statistics Statistics

	// Listeners receive pool events. Callbacks run without any cache lock held.
	Listeners []EventListener

	// Logger is the logger for cache operations.
	// If nil, a default logger writing to stderr is used.
	Logger Logger
}

// DefaultOptions returns a new Options with default values.
func DefaultOptions() *Options {
	return &Options{
		NumBuffers: 30,
		NumShards:  13,
		BlockSize:  1024,
		ShardHash:  IdentityHash,
		Logger:     nil, // Will use the default logger
	}
}

// Validate checks that the options describe a usable pool.
func (o *Options) Validate() error {
	switch {
	case o.NumShards < 1:
		return fmt.Errorf("%w: NumShards must be >= 1, got %d", ErrInvalidOptions, o.NumShards)
	case o.NumBuffers < o.NumShards:
		return fmt.Errorf("%w: NumBuffers (%d) must be >= NumShards (%d)", ErrInvalidOptions, o.NumBuffers, o.NumShards)
	case o.BlockSize <= 0:
		return fmt.Errorf("%w: BlockSize must be > 0, got %d", ErrInvalidOptions, o.BlockSize)
	}
	return nil
}
