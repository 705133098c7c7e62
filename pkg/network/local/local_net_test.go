package local

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	blocks []*consensus.Block
	txns   [][]byte
	store  map[consensus.Hash]*consensus.Block
}

func (r *recorder) RecvBlock(from string, b *consensus.Block) {
	r.mu.Lock()
	r.blocks = append(r.blocks, b)
	r.mu.Unlock()
}

func (r *recorder) RecvTxn(txn []byte) bool {
	r.mu.Lock()
	r.txns = append(r.txns, txn)
	r.mu.Unlock()
	return true
}

func (r *recorder) Block(h consensus.Hash) (*consensus.Block, error) {
	b, ok := r.store[h]
	if !ok {
		return nil, consensus.ErrNotFound
	}
	return b, nil
}

func (r *recorder) count() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks), len(r.txns)
}

func TestBroadcast(t *testing.T) {
	var n Network
	a, b, c := &recorder{}, &recorder{}, &recorder{}
	ea := n.Join("a", a)
	n.Join("b", b)
	n.Join("c", c)
	n.Isolate("c", true)

	ea.BroadcastBlock(&consensus.Block{})
	ea.BroadcastTxn([]byte{1})
	assert.Eventually(t, func() bool {
		bs, ts := b.count()
		return bs == 1 && ts == 1
	}, time.Second, 5*time.Millisecond)

	bs, ts := a.count()
	assert.Equal(t, 0, bs)
	assert.Equal(t, 0, ts)
	bs, ts = c.count()
	assert.Equal(t, 0, bs)
	assert.Equal(t, 0, ts)
}

func TestRequestBlock(t *testing.T) {
	var n Network
	blk := &consensus.Block{Header: consensus.Header{Slot: 2}}
	a := &recorder{}
	b := &recorder{store: map[consensus.Hash]*consensus.Block{blk.Hash(): blk}}
	ea := n.Join("a", a)
	n.Join("b", b)

	r, err := ea.RequestBlock(context.Background(), "b", blk.Hash())
	require.Nil(t, err)
	assert.Equal(t, blk, r)

	_, err = ea.RequestBlock(context.Background(), "b", consensus.Hash{1})
	assert.Equal(t, consensus.ErrNotFound, err)

	_, err = ea.RequestBlock(context.Background(), "x", blk.Hash())
	assert.NotNil(t, err)

	ea.Penalize("b", errors.New("bad block"))
	assert.Equal(t, 1, n.Penalty("b"))
}
