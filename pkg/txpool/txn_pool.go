package txpool

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"
	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
)

// logFactor is the size of the status log relative to the pool.
const logFactor = 4

var (
	errBadSignature    = errors.New("invalid transaction signature")
	errEmptyTxn        = errors.New("empty transaction")
	errAlreadyIncluded = errors.New("transaction already included in a block")
)

// TxnPool holds the transactions waiting to be included in a block.
// It is bounded, when full the oldest transaction is evicted. The
// pool also keeps a bounded status log of the transactions it has
// seen.
type TxnPool struct {
	txns *lru.Cache
	logs *logs
}

// New creates a pool holding at most max transactions.
func New(max int) *TxnPool {
	c, err := lru.New(max)
	if err != nil {
		panic(err)
	}

	return &TxnPool{txns: c, logs: newLogs(max * logFactor)}
}

// Add adds the encoded transaction after checking its signature. It
// returns true if the transaction is new and should be relayed. A
// transaction already included in a canonical block is refused.
func (t *TxnPool) Add(b []byte, origin Origin) (broadcast bool, err error) {
	if len(b) == 0 {
		return false, errEmptyTxn
	}

	hash := consensus.TxnHash(b)
	if t.txns.Contains(hash) {
		return false, nil
	}

	if e, ok := t.logs.get(hash); ok && e.Status == InBlock {
		return false, errAlreadyIncluded
	}

	txn, err := ledger.DecodeTxn(b)
	if err != nil {
		t.reject(hash, origin, err)
		return false, err
	}

	if !txn.Sig.Verify(txn.Owner, txn.Encode(false)) {
		t.reject(hash, origin, errBadSignature)
		return false, errBadSignature
	}

	t.txns.Add(hash, b)
	t.logs.update(hash, origin, func(e *Entry) {
		e.Status = Pending
		e.Reason = ""
	})
	return true, nil
}

func (t *TxnPool) reject(h consensus.Hash, origin Origin, err error) {
	t.logs.update(h, origin, func(e *Entry) {
		e.Status = Rejected
		e.Reason = err.Error()
	})
}

// Get returns the pending transaction of the given hash.
func (t *TxnPool) Get(h consensus.Hash) []byte {
	v, ok := t.txns.Peek(h)
	if !ok {
		return nil
	}
	return v.([]byte)
}

// Status returns the log entry of the transaction.
func (t *TxnPool) Status(h consensus.Hash) (Entry, bool) {
	return t.logs.get(h)
}

// Txns returns the transactions, oldest first.
func (t *TxnPool) Txns() [][]byte {
	keys := t.txns.Keys()
	r := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v, ok := t.txns.Peek(k)
		if !ok {
			continue
		}
		r = append(r, v.([]byte))
	}
	return r
}

// Included removes the transactions included in the canonical block.
func (t *TxnPool) Included(block consensus.Hash, hashes []consensus.Hash) {
	for _, h := range hashes {
		t.txns.Remove(h)
		t.logs.update(h, Network, func(e *Entry) {
			e.Status = InBlock
			e.Block = block
		})
	}
}

// Restore adds back the transactions of a block that is no longer
// canonical. They were valid in the abandoned block, so the
// signature is not checked again.
func (t *TxnPool) Restore(txns [][]byte) {
	for _, b := range txns {
		h := consensus.TxnHash(b)
		t.txns.Add(h, b)
		t.logs.update(h, Network, func(e *Entry) {
			e.Status = Pending
			e.Block = consensus.Hash{}
		})
	}
}

// Size returns the number of transactions in the pool.
func (t *TxnPool) Size() int {
	return t.txns.Len()
}
