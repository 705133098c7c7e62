package consensus

import "errors"

// ErrNotFound is returned by the Store when the item does not exist.
var ErrNotFound = errors.New("not found")

// Finalized is an entry of the finalized chain.
type Finalized struct {
	Hash     Hash
	Slot     uint64
	Length   uint64
	Strength uint64
}

// Store is the durable storage of the chain. The finalized chain is
// append only, the non-finalized blocks are kept until pruned so
// that the block tree can be rebuilt after a restart.
type Store interface {
	Block(h Hash) (*Block, error)
	PutBlock(b *Block) error
	// Snapshot returns the encoded ledger snapshot after the
	// block.
	Snapshot(h Hash) ([]byte, error)
	PutSnapshot(h Hash, snapshot []byte) error
	// Finalize appends the block to the finalized chain, its
	// length must be one more than the current head.
	Finalize(f Finalized) error
	// FinalizedHead returns the last finalized block, ErrNotFound
	// if the chain is empty.
	FinalizedHead() (Finalized, error)
	// FinalizedFrom returns the latest finalized block at or
	// before the slot and all finalized blocks after it.
	FinalizedFrom(slot uint64) ([]Finalized, error)
	// PendingBlocks returns the stored non-finalized blocks,
	// sorted by slot.
	PendingBlocks() ([]*Block, error)
	// PruneBelow removes the non-finalized blocks with a slot not
	// greater than the slot of the given finalized block.
	PruneBelow(h Hash) error
}
