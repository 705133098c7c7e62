package ledger

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/helinwang/stakechain/pkg/consensus"
)

// Transition applies transactions on top of a parent state. The
// parent is never modified.
type Transition struct {
	state  *State
	slot   uint64
	leader consensus.Addr
	txns   [][]byte
}

func newTransition(parent *State, slot uint64, leader consensus.Addr) *Transition {
	return &Transition{state: parent.clone(), slot: slot, leader: leader}
}

// Txns returns the recorded transactions.
func (t *Transition) Txns() [][]byte {
	return t.txns
}

// Commit returns the resulting state, the transition must not be
// used afterwards.
func (t *Transition) Commit() *State {
	return t.state.commit()
}

func txnErr(kind consensus.LedgerErrorKind, h consensus.Hash, format string, args ...interface{}) *consensus.LedgerError {
	return &consensus.LedgerError{Kind: kind, Txn: h, Detail: fmt.Sprintf(format, args...)}
}

// Record applies the encoded transaction. The state is unchanged
// when an error is returned.
func (t *Transition) Record(b []byte) *consensus.LedgerError {
	h := consensus.TxnHash(b)
	txn, err := DecodeTxn(b)
	if err != nil {
		return txnErr(consensus.MalformedTxn, h, "%v", err)
	}

	if !txn.Sig.Verify(txn.Owner, txn.Encode(false)) {
		return txnErr(consensus.BadTxnSignature, h, "")
	}

	if txn.ValidUntil != 0 && t.slot > txn.ValidUntil {
		return txnErr(consensus.ExpiredValidity, h, "valid until slot %d, current slot %d", txn.ValidUntil, t.slot)
	}

	sender := txn.Sender()
	acc, ok := t.state.Account(sender)
	if !ok {
		return txnErr(consensus.InsufficientFunds, h, "account %v not found", sender)
	}

	if txn.Nonce < acc.Nonce {
		return txnErr(consensus.DoubleSpend, h, "nonce %d already spent by %v", txn.Nonce, sender)
	}

	if txn.Nonce > acc.Nonce {
		return txnErr(consensus.MalformedTxn, h, "nonce %d not ready, expected %d", txn.Nonce, acc.Nonce)
	}

	if acc.Balance < txn.Fee {
		return txnErr(consensus.InsufficientFunds, h, "balance %d, fee %d", acc.Balance, txn.Fee)
	}

	var lerr *consensus.LedgerError
	switch txn.T {
	case Transfer:
		lerr = t.transfer(h, txn, acc)
	case RegisterPool:
		lerr = t.registerPool(h, txn, acc)
	case RetirePool:
		lerr = t.retirePool(h, txn, acc)
	case Delegate:
		lerr = t.delegate(h, txn, acc)
	default:
		lerr = txnErr(consensus.MalformedTxn, h, "unknown txn type %d", txn.T)
	}

	if lerr != nil {
		return lerr
	}

	t.txns = append(t.txns, b)
	return nil
}

// spend charges the fee and increments the nonce of the sender, acc
// must be the latest value of the account.
func (t *Transition) spend(acc Account, fee uint64) Account {
	acc.Nonce++
	acc.Balance -= fee
	t.updateAccount(acc)

	if fee > 0 {
		t.payFee(fee)
	}

	acc, _ = t.state.Account(acc.Addr)
	return acc
}

// payFee pays the fee to the owner of the block leader's pool, the
// fee is burned if the pool is unknown.
func (t *Transition) payFee(fee uint64) {
	pool, ok := t.state.Pool(t.leader)
	if !ok {
		return
	}

	owner, ok := t.state.Account(pool.Owner)
	if !ok {
		owner = Account{Addr: pool.Owner}
	}

	if owner.Balance > math.MaxUint64-fee {
		return
	}

	owner.Balance += fee
	t.updateAccount(owner)
}

// updateAccount stores the account and keeps the delegated stake of
// the pools in sync with the balance.
func (t *Transition) updateAccount(acc Account) {
	old, ok := t.state.Account(acc.Addr)
	if ok && old.Delegation != consensus.ZeroAddr {
		if p, ok := t.state.Pool(old.Delegation); ok {
			p.Stake -= old.Balance
			t.state.pools.ReplaceOrInsert(p)
		}
	}

	if acc.Delegation != consensus.ZeroAddr {
		if p, ok := t.state.Pool(acc.Delegation); ok {
			p.Stake += acc.Balance
			t.state.pools.ReplaceOrInsert(p)
		}
	}

	t.state.accounts.ReplaceOrInsert(acc)
}

func (t *Transition) transfer(h consensus.Hash, txn *Txn, acc Account) *consensus.LedgerError {
	var d TransferTxn
	err := rlp.DecodeBytes(txn.Data, &d)
	if err != nil {
		return txnErr(consensus.MalformedTxn, h, "%v", err)
	}

	if d.Amount > math.MaxUint64-txn.Fee || acc.Balance < d.Amount+txn.Fee {
		return txnErr(consensus.InsufficientFunds, h, "balance %d, amount %d, fee %d", acc.Balance, d.Amount, txn.Fee)
	}

	to, ok := t.state.Account(d.To)
	if !ok {
		to = Account{Addr: d.To}
	} else if to.Addr != acc.Addr && to.Balance > math.MaxUint64-d.Amount {
		return txnErr(consensus.MalformedTxn, h, "receiver balance overflow")
	}

	acc = t.spend(acc, txn.Fee)
	acc.Balance -= d.Amount
	t.updateAccount(acc)

	to, ok = t.state.Account(d.To)
	if !ok {
		to = Account{Addr: d.To}
	}
	to.Balance += d.Amount
	t.updateAccount(to)
	return nil
}

func (t *Transition) registerPool(h consensus.Hash, txn *Txn, acc Account) *consensus.LedgerError {
	var d RegisterPoolTxn
	err := rlp.DecodeBytes(txn.Data, &d)
	if err != nil {
		return txnErr(consensus.MalformedTxn, h, "%v", err)
	}

	if len(d.PK) == 0 {
		return txnErr(consensus.InvalidCertificate, h, "empty pool key")
	}

	id := d.PK.Addr()
	if _, ok := t.state.Pool(id); ok {
		return txnErr(consensus.InvalidCertificate, h, "pool %v already registered", id)
	}

	t.spend(acc, txn.Fee)
	t.state.pools.ReplaceOrInsert(Pool{ID: id, PK: d.PK, Owner: acc.Addr})
	return nil
}

func (t *Transition) retirePool(h consensus.Hash, txn *Txn, acc Account) *consensus.LedgerError {
	var d RetirePoolTxn
	err := rlp.DecodeBytes(txn.Data, &d)
	if err != nil {
		return txnErr(consensus.MalformedTxn, h, "%v", err)
	}

	p, ok := t.state.Pool(d.Pool)
	if !ok {
		return txnErr(consensus.InvalidCertificate, h, "pool %v not found", d.Pool)
	}

	if p.Owner != acc.Addr {
		return txnErr(consensus.InvalidCertificate, h, "pool %v not owned by %v", d.Pool, acc.Addr)
	}

	if p.Retiring {
		return txnErr(consensus.InvalidCertificate, h, "pool %v already retiring", d.Pool)
	}

	t.spend(acc, txn.Fee)
	p, _ = t.state.Pool(d.Pool)
	p.Retiring = true
	t.state.pools.ReplaceOrInsert(p)
	return nil
}

func (t *Transition) delegate(h consensus.Hash, txn *Txn, acc Account) *consensus.LedgerError {
	var d DelegateTxn
	err := rlp.DecodeBytes(txn.Data, &d)
	if err != nil {
		return txnErr(consensus.MalformedTxn, h, "%v", err)
	}

	if d.Pool != consensus.ZeroAddr {
		p, ok := t.state.Pool(d.Pool)
		if !ok {
			return txnErr(consensus.InvalidCertificate, h, "pool %v not found", d.Pool)
		}

		if p.Retiring {
			return txnErr(consensus.InvalidCertificate, h, "pool %v is retiring", d.Pool)
		}
	}

	acc = t.spend(acc, txn.Fee)
	acc.Delegation = d.Pool
	t.updateAccount(acc)
	return nil
}
