package txpool

import (
	"testing"

	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxnPool(t *testing.T) {
	_, sk := consensus.RandKeyPair()
	to := sk.MustPK().Addr()
	a := ledger.MakeTransferTxn(sk, to, 1, ledger.TxnOpts{Nonce: 0})
	b := ledger.MakeTransferTxn(sk, to, 1, ledger.TxnOpts{Nonce: 1})
	c := ledger.MakeTransferTxn(sk, to, 1, ledger.TxnOpts{Nonce: 2})

	p := New(2)
	broadcast, err := p.Add(a, Local)
	require.Nil(t, err)
	assert.True(t, broadcast)

	broadcast, err = p.Add(a, Network)
	require.Nil(t, err)
	assert.False(t, broadcast)

	_, err = p.Add(b, Network)
	require.Nil(t, err)
	assert.Equal(t, [][]byte{a, b}, p.Txns())

	// the oldest is evicted.
	_, err = p.Add(c, Network)
	require.Nil(t, err)
	assert.Equal(t, [][]byte{b, c}, p.Txns())
	assert.Nil(t, p.Get(consensus.TxnHash(a)))
	assert.Equal(t, c, p.Get(consensus.TxnHash(c)))

	e, ok := p.Status(consensus.TxnHash(a))
	require.True(t, ok)
	assert.Equal(t, Pending, e.Status)
	assert.Equal(t, Local, e.Origin)

	block := consensus.SHA3([]byte("block"))
	p.Included(block, []consensus.Hash{consensus.TxnHash(b)})
	assert.Equal(t, [][]byte{c}, p.Txns())
	assert.Equal(t, 1, p.Size())

	e, ok = p.Status(consensus.TxnHash(b))
	require.True(t, ok)
	assert.Equal(t, InBlock, e.Status)
	assert.Equal(t, block, e.Block)
	assert.Equal(t, Network, e.Origin)
}

func TestIncludedTxnNotReadmitted(t *testing.T) {
	_, sk := consensus.RandKeyPair()
	a := ledger.MakeTransferTxn(sk, consensus.Addr{}, 1, ledger.TxnOpts{})
	h := consensus.TxnHash(a)

	p := New(4)
	_, err := p.Add(a, Local)
	require.Nil(t, err)
	p.Included(consensus.SHA3([]byte("block")), []consensus.Hash{h})

	// the transaction gossiped again after its inclusion.
	broadcast, err := p.Add(a, Network)
	assert.Equal(t, errAlreadyIncluded, err)
	assert.False(t, broadcast)
	assert.Equal(t, 0, p.Size())

	// the block was abandoned by a reorg.
	p.Restore([][]byte{a})
	assert.Equal(t, [][]byte{a}, p.Txns())
	e, ok := p.Status(h)
	require.True(t, ok)
	assert.Equal(t, Pending, e.Status)
	assert.Equal(t, consensus.Hash{}, e.Block)
	assert.Equal(t, Local, e.Origin)
}

func TestTxnPoolRejectsInvalid(t *testing.T) {
	_, sk := consensus.RandKeyPair()
	txn, err := ledger.DecodeTxn(ledger.MakeTransferTxn(sk, consensus.Addr{}, 1, ledger.TxnOpts{}))
	require.Nil(t, err)
	txn.Nonce = 7
	forged := txn.Encode(true)

	p := New(10)
	_, err = p.Add(forged, Network)
	assert.Equal(t, errBadSignature, err)

	e, ok := p.Status(consensus.TxnHash(forged))
	require.True(t, ok)
	assert.Equal(t, Rejected, e.Status)
	assert.Equal(t, errBadSignature.Error(), e.Reason)
	assert.Equal(t, Network, e.Origin)

	_, err = p.Add(nil, Local)
	assert.Equal(t, errEmptyTxn, err)
	assert.Equal(t, 0, p.Size())

	_, ok = p.Status(consensus.TxnHash([]byte{1}))
	assert.False(t, ok)
}
