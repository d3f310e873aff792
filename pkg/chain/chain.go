package chain

// HashWindow is how many trailing blocks keep a queryable hash. Hashes
// older than this read as unavailable, matching the lookback limit of
// the chains the platform settles on.
const HashWindow = 256

// Source provides the block clock and block hashes the randomness and
// cancellation windows are measured against.
type Source interface {
	CurrentBlock() uint64
	// BlockHash returns the hash of block n and whether it is still
	// queryable. Future blocks and blocks older than HashWindow are not.
	BlockHash(n uint64) ([32]byte, bool)
}
