package node

import (
	"context"
	"errors"

	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/ledger"
	"github.com/helinwang/stakechain/pkg/txpool"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const defaultTxnPoolSize = 10000

// Transport connects the node to its peers.
type Transport interface {
	consensus.Broadcaster
	consensus.Reputation
	consensus.BlockRequester
	BroadcastTxn(txn []byte)
}

type nopTransport struct{}

func (nopTransport) BroadcastBlock(*consensus.Block) {}

func (nopTransport) Penalize(string, error) {}

func (nopTransport) RequestBlock(context.Context, string, consensus.Hash) (*consensus.Block, error) {
	return nil, errors.New("not connected")
}

func (nopTransport) BroadcastTxn([]byte) {}

// Options are the options of the node.
type Options struct {
	Config  consensus.Config
	Genesis *consensus.Genesis
	Store   consensus.Store
	// Credentials of the block producing stake pool, the node
	// does not produce blocks when nil.
	Credentials *consensus.NodeCredentials
	TxnPoolSize int
	Clock       consensus.Clock
	Registerer  prometheus.Registerer
	PhaseHook   consensus.PhaseHook
}

// Node is a full node: it validates and relays blocks and
// transactions and produces blocks when it holds the credentials
// of a stake pool.
type Node struct {
	tm       *consensus.TipManager
	pool     *txpool.TxnPool
	producer *consensus.Producer
	t        Transport
}

// New creates a new node.
func New(opts Options) (*Node, error) {
	size := opts.TxnPoolSize
	if size <= 0 {
		size = defaultTxnPoolSize
	}

	n := &Node{
		pool: txpool.New(size),
		t:    nopTransport{},
	}

	tm, err := consensus.NewTipManager(opts.Config, opts.Genesis, consensus.Deps{
		Ledger:      ledger.New(),
		Store:       opts.Store,
		Broadcaster: n,
		Reputation:  n,
		Requester:   n,
		Txns:        n.pool,
		Clock:       opts.Clock,
		Registerer:  opts.Registerer,
		PhaseHook:   opts.PhaseHook,
	})
	if err != nil {
		return nil, err
	}

	n.tm = tm
	if opts.Credentials != nil {
		n.producer = consensus.NewProducer(opts.Credentials.SK, tm, n.pool)
	}
	return n, nil
}

// SetTransport sets the transport, it must be called before Run.
func (n *Node) SetTransport(t Transport) {
	n.t = t
}

// Chain returns the tip manager of the node.
func (n *Node) Chain() *consensus.TipManager {
	return n.tm
}

// TxnPool returns the pending transactions.
func (n *Node) TxnPool() *txpool.TxnPool {
	return n.pool
}

// Run runs the node until the context is done.
func (n *Node) Run(ctx context.Context) error {
	err := n.tm.Recover()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.tm.Run(ctx)
	})

	if n.producer != nil {
		log.Info("producing blocks", "pool", n.producer.Addr())
		g.Go(func() error {
			return n.producer.Run(ctx)
		})
	}

	return g.Wait()
}

// SendTxn adds the transaction to the pool and relays it.
func (n *Node) SendTxn(txn []byte) error {
	broadcast, err := n.pool.Add(txn, txpool.Local)
	if err != nil {
		return err
	}

	if broadcast {
		n.t.BroadcastTxn(txn)
	}
	return nil
}

// RecvBlock submits the block received from the peer.
func (n *Node) RecvBlock(from string, b *consensus.Block) {
	err := n.tm.Submit(consensus.Candidate{Block: b, From: consensus.Provenance{Peer: from}})
	if err != nil {
		log.Debug("received block not accepted", "peer", from, "err", err)
	}
}

// RecvTxn adds the transaction received from a peer to the pool.
func (n *Node) RecvTxn(txn []byte) bool {
	broadcast, err := n.pool.Add(txn, txpool.Network)
	if err != nil {
		log.Debug("received txn not accepted", "err", err)
		return false
	}

	return broadcast
}

// TxnStatus returns the status log entry of the transaction.
func (n *Node) TxnStatus(h consensus.Hash) (txpool.Entry, bool) {
	return n.pool.Status(h)
}

// PendingTxn returns the transaction if it is waiting in the pool.
func (n *Node) PendingTxn(h consensus.Hash) []byte {
	return n.pool.Get(h)
}

// Block returns the block of the hash.
func (n *Node) Block(h consensus.Hash) (*consensus.Block, error) {
	return n.tm.Block(h)
}

// BroadcastBlock relays the block to the peers.
func (n *Node) BroadcastBlock(b *consensus.Block) {
	n.t.BroadcastBlock(b)
}

// Penalize reports the peer that sent an invalid block.
func (n *Node) Penalize(peer string, err error) {
	n.t.Penalize(peer, err)
}

// RequestBlock requests the block from the peer.
func (n *Node) RequestBlock(ctx context.Context, peer string, h consensus.Hash) (*consensus.Block, error) {
	return n.t.RequestBlock(ctx, peer, h)
}
