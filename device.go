package bcache

// Device is a block-addressable backing store.
//
// The cache calls ReadBlock and WriteBlock synchronously while holding the
// block's buffer lock, so implementations never see concurrent operations on
// the same block through one Cache. They must still be safe for concurrent
// calls on distinct blocks.
type Device interface {
	// ReadBlock fills p (len(p) == block size) with the contents of the block.
	// Blocks that were never written read as zeros.
	ReadBlock(dev uint32, blockNo uint64, p []byte) error

	// WriteBlock stores p (len(p) == block size) as the contents of the block.
	WriteBlock(dev uint32, blockNo uint64, p []byte) error
}
