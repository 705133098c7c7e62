package consensus

import "sort"

// StakeEntry is the stake controlled by one stake pool. The pool's
// PK is the key its blocks are signed with.
type StakeEntry struct {
	Pool  Addr
	PK    PK
	Stake uint64
}

// StakeDistribution is the stake of every pool, sorted by pool
// address.
type StakeDistribution []StakeEntry

// Total returns the total stake.
func (d StakeDistribution) Total() uint64 {
	var t uint64
	for _, e := range d {
		t += e.Stake
	}
	return t
}

// Find returns the entry of the given pool.
func (d StakeDistribution) Find(pool Addr) (StakeEntry, bool) {
	i := sort.Search(len(d), func(i int) bool {
		return !d[i].Pool.Less(pool)
	})

	if i < len(d) && d[i].Pool == pool {
		return d[i], true
	}
	return StakeEntry{}, false
}

// Snapshot is the immutable ledger state after applying a prefix of
// blocks.
type Snapshot interface {
	// Root returns the state root, two snapshots with the same
	// root are identical.
	Root() Hash
	// Stake returns the stake distribution of the snapshot.
	Stake() StakeDistribution
	// Encode serializes the snapshot.
	Encode() []byte
}

// Ledger is the ledger state transition function.
type Ledger interface {
	// Apply applies the block's transactions to the parent
	// snapshot. It must be deterministic and must not modify the
	// parent snapshot. The error is a *LedgerError when a
	// transaction violates the ledger rules.
	Apply(parent Snapshot, b *ValidatedBlock) (Snapshot, error)

	// Select returns the transactions from the candidates that
	// apply on top of parent in the given slot, in order.
	Select(parent Snapshot, slot uint64, candidates [][]byte, max int) [][]byte

	// Decode deserializes a snapshot encoded by Snapshot.Encode.
	Decode(b []byte) (Snapshot, error)
}

// TxnSource is the pool that stores the received transactions
// waiting to be included in a block.
type TxnSource interface {
	// Txns returns the pending transactions, oldest first.
	Txns() [][]byte
	// Included removes the transactions included in a block of
	// the canonical branch.
	Included(block Hash, hashes []Hash)
	// Restore returns the transactions of an abandoned branch to
	// the pending transactions.
	Restore(txns [][]byte)
}
