package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
	"github.com/helinwang/stakechain/pkg/network/local"
	"github.com/helinwang/stakechain/pkg/store"
	"github.com/helinwang/stakechain/pkg/txpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChain struct {
	genesis *consensus.Genesis
	poolSK  consensus.SK
	alice   consensus.SK
	bob     consensus.Addr
}

func newTestChain(t *testing.T) *testChain {
	poolPK, poolSK := consensus.RandKeyPair()
	_, alice := consensus.RandKeyPair()
	bobPK, _ := consensus.RandKeyPair()

	s, err := ledger.Genesis([]ledger.Account{
		{Addr: alice.MustPK().Addr(), Balance: 1000, Delegation: poolPK.Addr()},
	}, []ledger.Pool{
		{ID: poolPK.Addr(), PK: poolPK, Owner: poolPK.Addr()},
	})
	require.Nil(t, err)

	cfg := consensus.DefaultConfig()
	cfg.SlotDuration = 100 * time.Millisecond
	cfg.SlotsPerEpoch = 10
	cfg.StabilitySlots = 2
	cfg.LeadersPerSlot = 1
	cfg.FinalityDepth = 2

	return &testChain{
		genesis: &consensus.Genesis{
			Time:   uint64(time.Now().UnixMilli()),
			Seed:   consensus.SHA3([]byte("seed")),
			State:  s.Encode(),
			Params: consensus.NewGenesisParams(cfg),
		},
		poolSK: poolSK,
		alice:  alice,
		bob:    bobPK.Addr(),
	}
}

func (c *testChain) node(t *testing.T, producer bool) *Node {
	opts := Options{
		Config:  consensus.DefaultConfig(),
		Genesis: c.genesis,
		Store:   store.New(store.NewMemKV()),
	}
	if producer {
		opts.Credentials = &consensus.NodeCredentials{SK: c.poolSK}
	}

	n, err := New(opts)
	require.Nil(t, err)
	return n
}

func run(t *testing.T, nodes ...*Node) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			assert.Nil(t, n.Run(ctx))
		}(n)
	}

	return func() {
		cancel()
		wg.Wait()
	}
}

func TestNodesReachConsensus(t *testing.T) {
	c := newTestChain(t)
	var hub local.Network
	a := c.node(t, true)
	b := c.node(t, false)
	a.SetTransport(hub.Join("a", a))
	b.SetTransport(hub.Join("b", b))
	stop := run(t, a, b)
	defer stop()

	txn := ledger.MakeTransferTxn(c.alice, c.bob, 100, ledger.TxnOpts{Fee: 1})
	require.Nil(t, b.SendTxn(txn))
	assert.Eventually(t, func() bool {
		return a.TxnPool().Size() == 1
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		acc, ok := b.Chain().Finalized().Snapshot.(*ledger.State).Account(c.bob)
		return ok && acc.Balance == 100
	}, 5*time.Second, 20*time.Millisecond)

	e, ok := b.TxnStatus(consensus.TxnHash(txn))
	require.True(t, ok)
	assert.Equal(t, txpool.InBlock, e.Status)
	assert.Equal(t, txpool.Local, e.Origin)
	assert.Nil(t, b.PendingTxn(consensus.TxnHash(txn)))

	sa := a.Chain().Status()
	sb := b.Chain().Status()
	assert.True(t, sa.FinalizedLength >= 1)
	assert.True(t, sb.FinalizedLength >= 1)
	assert.Equal(t, 0, hub.Penalty("a"))
}

func TestRecvTxn(t *testing.T) {
	c := newTestChain(t)
	n := c.node(t, false)

	txn := ledger.MakeTransferTxn(c.alice, c.bob, 1, ledger.TxnOpts{})
	assert.True(t, n.RecvTxn(txn))
	assert.False(t, n.RecvTxn(txn))
	assert.False(t, n.RecvTxn([]byte{1, 2, 3}))
	assert.Equal(t, 1, n.TxnPool().Size())
	assert.Equal(t, txn, n.PendingTxn(consensus.TxnHash(txn)))

	e, ok := n.TxnStatus(consensus.TxnHash(txn))
	require.True(t, ok)
	assert.Equal(t, txpool.Pending, e.Status)
	assert.Equal(t, txpool.Network, e.Origin)

	e, ok = n.TxnStatus(consensus.TxnHash([]byte{1, 2, 3}))
	require.True(t, ok)
	assert.Equal(t, txpool.Rejected, e.Status)

	g, err := n.Block(n.Chain().Genesis())
	require.Nil(t, err)
	assert.Equal(t, uint64(0), g.Slot())
}
