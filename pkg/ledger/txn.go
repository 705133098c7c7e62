package ledger

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/helinwang/stakechain/pkg/consensus"
)

// TxnType is the type of a transaction.
type TxnType uint8

// transaction types
const (
	Transfer TxnType = iota
	RegisterPool
	RetirePool
	Delegate
)

func (t TxnType) String() string {
	switch t {
	case Transfer:
		return "transfer"
	case RegisterPool:
		return "register_pool"
	case RetirePool:
		return "retire_pool"
	case Delegate:
		return "delegate"
	default:
		return "unknown"
	}
}

// Txn is a signed transaction. The sender's nonce is the input the
// transaction spends, a (sender, nonce) pair can be spent only once.
type Txn struct {
	T     TxnType
	Data  []byte
	Nonce uint64
	Fee   uint64
	// ValidUntil is the last slot the transaction can be
	// included in, 0 means no limit.
	ValidUntil uint64
	Owner      consensus.PK
	Sig        consensus.Sig
}

// TransferTxn sends coins to an account.
type TransferTxn struct {
	To     consensus.Addr
	Amount uint64
}

// RegisterPoolTxn registers the certificate of a new stake pool
// owned by the sender. The pool's ID is the address of its key.
type RegisterPoolTxn struct {
	PK consensus.PK
}

// RetirePoolTxn retires a stake pool owned by the sender, the pool
// no longer receives stake.
type RetirePoolTxn struct {
	Pool consensus.Addr
}

// DelegateTxn delegates the sender's balance to a stake pool. The
// zero address removes the delegation.
type DelegateTxn struct {
	Pool consensus.Addr
}

// Encode encodes the transaction.
func (t *Txn) Encode(withSig bool) []byte {
	en := *t
	if !withSig {
		en.Sig = nil
	}

	d, err := rlp.EncodeToBytes(&en)
	if err != nil {
		panic(err)
	}

	return d
}

// Hash returns the hash of the encoded transaction.
func (t *Txn) Hash() consensus.Hash {
	return consensus.TxnHash(t.Encode(true))
}

// Sender returns the address of the sender.
func (t *Txn) Sender() consensus.Addr {
	return t.Owner.Addr()
}

// DecodeTxn decodes the transaction.
func DecodeTxn(b []byte) (*Txn, error) {
	var t Txn
	err := rlp.DecodeBytes(b, &t)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func rlpEncode(v interface{}) []byte {
	d, err := rlp.EncodeToBytes(v)
	if err != nil {
		// should not happen
		panic(err)
	}
	return d
}

// TxnOpts are the fields common to all transaction types.
type TxnOpts struct {
	Nonce      uint64
	Fee        uint64
	ValidUntil uint64
}

func makeTxn(sk consensus.SK, t TxnType, data interface{}, opts TxnOpts) []byte {
	txn := &Txn{
		T:          t,
		Data:       rlpEncode(data),
		Nonce:      opts.Nonce,
		Fee:        opts.Fee,
		ValidUntil: opts.ValidUntil,
		Owner:      sk.MustPK(),
	}

	txn.Sig = sk.Sign(txn.Encode(false))
	return txn.Encode(true)
}

// MakeTransferTxn creates an encoded, signed transfer transaction.
func MakeTransferTxn(sk consensus.SK, to consensus.Addr, amount uint64, opts TxnOpts) []byte {
	return makeTxn(sk, Transfer, TransferTxn{To: to, Amount: amount}, opts)
}

// MakeRegisterPoolTxn creates an encoded, signed pool registration
// transaction.
func MakeRegisterPoolTxn(sk consensus.SK, pool consensus.PK, opts TxnOpts) []byte {
	return makeTxn(sk, RegisterPool, RegisterPoolTxn{PK: pool}, opts)
}

// MakeRetirePoolTxn creates an encoded, signed pool retirement
// transaction.
func MakeRetirePoolTxn(sk consensus.SK, pool consensus.Addr, opts TxnOpts) []byte {
	return makeTxn(sk, RetirePool, RetirePoolTxn{Pool: pool}, opts)
}

// MakeDelegateTxn creates an encoded, signed delegation transaction.
func MakeDelegateTxn(sk consensus.SK, pool consensus.Addr, opts TxnOpts) []byte {
	return makeTxn(sk, Delegate, DelegateTxn{Pool: pool}, opts)
}
