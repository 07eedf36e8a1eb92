package testutil

// Sync point names used by the cache engine.
// Naming follows "Component::Function:Location".
const (
	// Acquire path
	SPAcquireStart       = "BufferCache::Acquire:Start"
	SPAcquireHit         = "BufferCache::Acquire:Hit"
	SPAcquireRecycle     = "BufferCache::Acquire:Recycle"
	SPAcquireBeforeSleep = "BufferCache::Acquire:BeforeLineLock"
	SPAcquireExhausted   = "BufferCache::Acquire:Exhausted"

	// Steal path. SPStealEvictLocked fires with the home shard index once the
	// eviction lock and home lock are held; SPStealDonorLocked fires with the
	// donor shard index while both home and donor locks are held.
	SPStealEvictLocked = "BufferCache::Steal:EvictLocked"
	SPStealDonorLocked = "BufferCache::Steal:DonorLocked"
	SPStealComplete    = "BufferCache::Steal:Complete"

	// Read-through and write-through
	SPReadBeforeDevice   = "BufferCache::Read:BeforeDevice"
	SPCommitBeforeDevice = "BufferCache::Commit:BeforeDevice"

	// Release path; fires after the line lock is dropped, before the shard lock.
	SPReleaseLineUnlocked = "BufferCache::Release:LineUnlocked"
)
