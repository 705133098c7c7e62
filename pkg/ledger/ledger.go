package ledger

import (
	"fmt"

	"github.com/helinwang/stakechain/pkg/consensus"
	log "github.com/inconshreveable/log15"
)

// Ledger is the account ledger state transition function.
type Ledger struct{}

// New creates a new ledger.
func New() *Ledger {
	return &Ledger{}
}

func asState(s consensus.Snapshot) *State {
	st, ok := s.(*State)
	if !ok {
		panic(fmt.Errorf("unexpected snapshot type %T", s))
	}
	return st
}

// Apply applies the block's transactions in order. Any transaction
// violating the ledger rules rejects the whole block.
func (l *Ledger) Apply(parent consensus.Snapshot, b *consensus.ValidatedBlock) (consensus.Snapshot, error) {
	t := newTransition(asState(parent), b.Header.Slot, b.Header.Leader)
	for i, txn := range b.Txns {
		err := t.Record(txn)
		if err != nil {
			err.Index = i
			return nil, err
		}
	}

	return t.Commit(), nil
}

// Select returns the candidates that apply in order on top of
// parent, at most max of them. Candidates that do not apply yet,
// e.g., with a future nonce, are retried after each accepted
// transaction.
func (l *Ledger) Select(parent consensus.Snapshot, slot uint64, candidates [][]byte, max int) [][]byte {
	// the leader only receives the fees, it does not change which
	// transactions apply.
	t := newTransition(asState(parent), slot, consensus.ZeroAddr)
	pending := candidates
	for len(t.txns) < max {
		var next [][]byte
		progress := false
		for _, txn := range pending {
			if len(t.txns) >= max {
				break
			}

			err := t.Record(txn)
			if err == nil {
				progress = true
				continue
			}

			if err.Kind == consensus.MalformedTxn {
				// may be a future nonce.
				next = append(next, txn)
				continue
			}

			log.Debug("txn skipped", "hash", err.Txn, "err", err)
		}

		if !progress || len(next) == 0 {
			break
		}
		pending = next
	}

	return t.Txns()
}

// Decode decodes a snapshot.
func (l *Ledger) Decode(b []byte) (consensus.Snapshot, error) {
	return DecodeState(b)
}

// Genesis creates the genesis state.
func Genesis(accounts []Account, pools []Pool) (*State, error) {
	s := newState()
	for _, p := range pools {
		if len(p.PK) == 0 || p.PK.Addr() != p.ID {
			return nil, fmt.Errorf("pool %v does not match its key", p.ID)
		}

		if _, ok := s.Pool(p.ID); ok {
			return nil, fmt.Errorf("duplicate pool %v", p.ID)
		}

		p.Stake = 0
		s.pools.ReplaceOrInsert(p)
	}

	t := &Transition{state: s}
	for _, a := range accounts {
		if _, ok := s.Account(a.Addr); ok {
			return nil, fmt.Errorf("duplicate account %v", a.Addr)
		}

		if a.Delegation != consensus.ZeroAddr {
			if _, ok := s.Pool(a.Delegation); !ok {
				return nil, fmt.Errorf("account %v delegates to unknown pool %v", a.Addr, a.Delegation)
			}
		}

		t.updateAccount(a)
	}

	return t.Commit(), nil
}
