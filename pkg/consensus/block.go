package consensus

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"
)

// Header is the block header.
type Header struct {
	Parent Hash
	Slot   uint64
	Epoch  uint64
	Leader Addr
	// LeaderPK must hash to Leader.
	LeaderPK PK
	// LeaderProof is the leader's signature of the epoch nonce
	// and the slot, see LeaderProofMsg.
	LeaderProof Sig
	// ContentHash commits to the block body.
	ContentHash Hash
	// The signature of the rlp encoded header with Sig set to
	// nil.
	Sig Sig
}

// Encode encodes the header.
func (h *Header) Encode(withSig bool) []byte {
	en := *h
	if !withSig {
		en.Sig = nil
	}

	b, err := rlp.EncodeToBytes(&en)
	if err != nil {
		panic(err)
	}

	return b
}

// Hash returns the hash of the header.
func (h *Header) Hash() Hash {
	return SHA3(h.Encode(true))
}

// Block is a header and an ordered sequence of transactions. The
// transactions are opaque to the consensus, they are interpreted by
// the Ledger.
type Block struct {
	Header Header
	Txns   [][]byte
}

// Hash returns the hash of the block, it is the hash of its header.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// Slot returns the slot of the block.
func (b *Block) Slot() uint64 {
	return b.Header.Slot
}

// Parent returns the hash of the parent block.
func (b *Block) Parent() Hash {
	return b.Header.Parent
}

// Encode encodes the block.
func (b *Block) Encode() []byte {
	d, err := rlp.EncodeToBytes(b)
	if err != nil {
		panic(err)
	}

	return d
}

// Decode decodes the data into the block.
func (b *Block) Decode(d []byte) error {
	var use Block
	err := rlp.DecodeBytes(d, &use)
	if err != nil {
		return err
	}

	*b = use
	return nil
}

// ContentHash returns the hash committing to the transactions.
func ContentHash(txns [][]byte) Hash {
	if txns == nil {
		txns = [][]byte{}
	}

	b, err := rlp.EncodeToBytes(txns)
	if err != nil {
		panic(err)
	}

	return SHA3(b)
}

// TxnHash returns the identifier of an encoded transaction.
func TxnHash(txn []byte) Hash {
	return SHA3(txn)
}

// LeaderProofMsg returns the message a leader signs to prove its
// eligibility of the slot.
func LeaderProofMsg(nonce Rand, slot uint64) []byte {
	msg := make([]byte, hashBytes+8)
	copy(msg, nonce[:])
	binary.BigEndian.PutUint64(msg[hashBytes:], slot)
	return msg
}

// ValidatedBlock is a block that passed the structural and
// eligibility validation. It is not yet known if the block's
// transactions apply to the parent's ledger snapshot.
type ValidatedBlock struct {
	*Block
	Hash Hash
	// Rank is the rank of the leader in the slot.
	Rank int
	// Strength is the leader eligibility strength credited to
	// the block by the fork choice.
	Strength uint64
	// Schedule is the schedule the block was validated with.
	Schedule *EpochSchedule
}
