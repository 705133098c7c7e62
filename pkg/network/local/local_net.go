package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/helinwang/stakechain/pkg/network"
)

// Network is an in-process network, blocks and transactions are
// delivered directly to the receivers of the other endpoints.
type Network struct {
	mu       sync.Mutex
	peers    map[string]network.Receiver
	penalty  map[string]int
	isolated map[string]bool
}

// Join adds the receiver to the network under the address.
func (n *Network) Join(addr string, r network.Receiver) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.peers == nil {
		n.peers = make(map[string]network.Receiver)
		n.penalty = make(map[string]int)
		n.isolated = make(map[string]bool)
	}

	n.peers[addr] = r
	return &Endpoint{addr: addr, n: n}
}

// Isolate stops the delivery to and from the address.
func (n *Network) Isolate(addr string, isolated bool) {
	n.mu.Lock()
	n.isolated[addr] = isolated
	n.mu.Unlock()
}

// Penalty returns the number of times the address was penalized.
func (n *Network) Penalty(addr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.penalty[addr]
}

func (n *Network) others(addr string) map[string]network.Receiver {
	n.mu.Lock()
	defer n.mu.Unlock()

	r := make(map[string]network.Receiver)
	if n.isolated[addr] {
		return r
	}

	for a, p := range n.peers {
		if a == addr || n.isolated[a] {
			continue
		}
		r[a] = p
	}
	return r
}

// Endpoint is the view of the network from one address.
type Endpoint struct {
	addr string
	n    *Network
}

// BroadcastBlock delivers the block to the other endpoints.
func (e *Endpoint) BroadcastBlock(b *consensus.Block) {
	for _, p := range e.n.others(e.addr) {
		go p.RecvBlock(e.addr, b)
	}
}

// BroadcastTxn delivers the transaction to the other endpoints.
func (e *Endpoint) BroadcastTxn(txn []byte) {
	for _, p := range e.n.others(e.addr) {
		go p.RecvTxn(txn)
	}
}

// RequestBlock fetches the block from the peer.
func (e *Endpoint) RequestBlock(ctx context.Context, peer string, h consensus.Hash) (*consensus.Block, error) {
	p, ok := e.n.others(e.addr)[peer]
	if !ok {
		return nil, fmt.Errorf("peer not found: %s", peer)
	}

	return p.Block(h)
}

// Penalize records the offense of the peer.
func (e *Endpoint) Penalize(peer string, err error) {
	e.n.mu.Lock()
	e.n.penalty[peer]++
	e.n.mu.Unlock()
}
