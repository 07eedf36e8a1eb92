package bcache

import (
	"errors"
	"fmt"

	"github.com/aalhour/bcache/internal/logging"
)

var (
	// ErrNoBuffers is returned by Acquire and Read when every buffer in the
	// pool is referenced. It wraps logging.ErrFatal: the pool is sized too
	// small for the workload.
	ErrNoBuffers = fmt.Errorf("bcache: no free buffers: %w", logging.ErrFatal)

	// ErrNotHeld is the panic value (wrapped) raised when Commit or Release is
	// called with a Buf whose lock the caller does not hold.
	ErrNotHeld = errors.New("bcache: buffer lock not held")

	// ErrNotCached is returned by Pin when the block is not resident.
	ErrNotCached = errors.New("bcache: block not cached")

	// ErrNotPinned is returned by Unpin when the block has no references.
	ErrNotPinned = errors.New("bcache: block not pinned")

	// ErrInvalidOptions is wrapped by option validation errors.
	ErrInvalidOptions = errors.New("bcache: invalid options")

	// ErrInvariant is wrapped by Verify when the pool structure is inconsistent.
	ErrInvariant = errors.New("bcache: pool invariant violated")
)
