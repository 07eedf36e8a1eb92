package bcache

import (
	"fmt"
	"sync/atomic"

	"github.com/aalhour/bcache/internal/cache"
)

// Key identifies a block: a device id and a block number on that device.
type Key struct {
	Dev     uint32
	BlockNo uint64
}

// String returns "(dev,blockNo)".
func (k Key) String() string {
	return fmt.Sprintf("(%d,%d)", k.Dev, k.BlockNo)
}

// line is one buffer of the pool. Lines are allocated once in New and only
// relabeled afterwards.
//
// dev, blockNo, labeled and refcnt are guarded by the lock of the shard whose
// list holds the line. data is guarded by lock. valid is written by the
// holder of lock, or under the shard lock while the line is unreferenced, and
// may be read atomically by anyone.
type line struct {
	dev     uint32
	blockNo uint64
	labeled bool // dev/blockNo name a block; false until first use
	valid   atomic.Bool
	refcnt  int32
	data    []byte
	lock    cache.SleepLock
}

func (ln *line) key() Key {
	return Key{Dev: ln.dev, BlockNo: ln.blockNo}
}

func (ln *line) holds(k Key) bool {
	return ln.labeled && ln.dev == k.Dev && ln.blockNo == k.BlockNo
}

// relabel assigns the line to k for a new acquisition.
// Caller holds the lock of the shard the line is (or is being) linked on.
func (ln *line) relabel(k Key) {
	ln.dev = k.Dev
	ln.blockNo = k.BlockNo
	ln.labeled = true
	ln.valid.Store(false)
	ln.refcnt = 1
}

// Buf is a caller's handle on a locked cache buffer, returned by Acquire and
// Read. The caller has exclusive access to Data until Release.
type Buf struct {
	c     *Cache
	slot  int
	token uint64
	key   Key
}

// Data returns the block contents. The slice is only valid until Release.
func (b *Buf) Data() []byte {
	return b.c.lines[b.slot].data
}

// Key returns the block this buffer holds.
func (b *Buf) Key() Key { return b.key }

// Dev returns the device id of the block.
func (b *Buf) Dev() uint32 { return b.key.Dev }

// BlockNo returns the block number.
func (b *Buf) BlockNo() uint64 { return b.key.BlockNo }

// Slot returns the pool index of the underlying buffer.
func (b *Buf) Slot() int { return b.slot }

// Valid reports whether Data reflects the device contents of the block.
// Acquire may return an invalid buffer; Read never does.
func (b *Buf) Valid() bool {
	return b.c.lines[b.slot].valid.Load()
}

// Held reports whether this handle still holds the buffer lock.
func (b *Buf) Held() bool {
	return b.c.lines[b.slot].lock.HeldBy(b.token)
}

// Pin adds a reference that keeps the buffer from being recycled after
// Release. Each Pin must be matched by an Unpin.
func (b *Buf) Pin() error {
	return b.c.adjustRef(b.slot, b.key, +1)
}

// Unpin drops a reference taken by Pin. It may be called after Release.
func (b *Buf) Unpin() error {
	return b.c.adjustRef(b.slot, b.key, -1)
}
