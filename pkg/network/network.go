package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/helinwang/stakechain/pkg/consensus"
	log "github.com/inconshreveable/log15"
)

const (
	dialTimeout = 5 * time.Second
	banDuration = 10 * time.Minute
	maxBanned   = 1024
	// peers are disconnected and banned after sending this many
	// invalid blocks.
	maxPenalty = 3
)

var errUnknownPeer = errors.New("unknown peer")

// Receiver receives the blocks and transactions from the network.
type Receiver interface {
	RecvBlock(from string, b *consensus.Block)
	// RecvTxn returns true if the transaction is new and should
	// be relayed.
	RecvTxn(txn []byte) (broadcast bool)
	Block(h consensus.Hash) (*consensus.Block, error)
}

// Network manages the peer connections. It implements the
// broadcaster, block requester and reputation of the tip manager.
type Network struct {
	recv   Receiver
	banned *lru.Cache

	mu       sync.Mutex
	listener net.Listener
	peers    map[string]*Peer
	penalty  map[string]int
	closed   bool
}

// New creates a new network.
func New(recv Receiver) *Network {
	banned, err := lru.New(maxBanned)
	if err != nil {
		panic(err)
	}

	return &Network{
		recv:    recv,
		banned:  banned,
		peers:   make(map[string]*Peer),
		penalty: make(map[string]int),
	}
}

// Start starts accepting connections on the address.
func (n *Network) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	n.mu.Lock()
	n.listener = ln
	n.mu.Unlock()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				n.mu.Lock()
				closed := n.closed
				n.mu.Unlock()
				if !closed {
					log.Error("accept connection error", "err", err)
				}
				return
			}

			if n.isBanned(conn.RemoteAddr().String()) {
				log.Debug("rejected banned peer", "addr", conn.RemoteAddr())
				conn.Close()
				continue
			}

			n.add(conn)
		}
	}()

	return ln.Addr().String(), nil
}

// Connect dials the address and adds it as a peer.
func (n *Network) Connect(addr string) error {
	if n.isBanned(addr) {
		return fmt.Errorf("peer %s is banned", addr)
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}

	n.add(conn)
	return nil
}

func (n *Network) add(conn net.Conn) {
	p := NewPeer(conn, handler{n: n})
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		p.Close()
		return
	}
	n.peers[p.Addr()] = p
	n.mu.Unlock()

	log.Info("peer connected", "addr", p.Addr())
	go func() {
		<-p.Done()
		n.mu.Lock()
		if n.peers[p.Addr()] == p {
			delete(n.peers, p.Addr())
		}
		n.mu.Unlock()
		log.Info("peer disconnected", "addr", p.Addr())
	}()
}

func (n *Network) isBanned(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	v, ok := n.banned.Get(host)
	if !ok {
		return false
	}

	if time.Now().After(v.(time.Time)) {
		n.banned.Remove(host)
		return false
	}

	return true
}

// Peers returns the addresses of the connected peers.
func (n *Network) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	r := make([]string, 0, len(n.peers))
	for addr := range n.peers {
		r = append(r, addr)
	}
	return r
}

func (n *Network) snapshot(except string) []*Peer {
	n.mu.Lock()
	defer n.mu.Unlock()

	r := make([]*Peer, 0, len(n.peers))
	for addr, p := range n.peers {
		if addr == except {
			continue
		}
		r = append(r, p)
	}
	return r
}

// BroadcastBlock sends the block to all peers.
func (n *Network) BroadcastBlock(b *consensus.Block) {
	for _, p := range n.snapshot("") {
		go func(p *Peer) {
			err := p.Block(b)
			if err != nil {
				log.Debug("send block error", "peer", p.Addr(), "err", err)
			}
		}(p)
	}
}

// BroadcastTxn sends the transaction to all peers.
func (n *Network) BroadcastTxn(txn []byte) {
	n.relayTxn(txn, "")
}

func (n *Network) relayTxn(txn []byte, except string) {
	for _, p := range n.snapshot(except) {
		go func(p *Peer) {
			err := p.Txn(txn)
			if err != nil {
				log.Debug("send txn error", "peer", p.Addr(), "err", err)
			}
		}(p)
	}
}

// RequestBlock requests the block from the peer.
func (n *Network) RequestBlock(ctx context.Context, peer string, h consensus.Hash) (*consensus.Block, error) {
	n.mu.Lock()
	p, ok := n.peers[peer]
	n.mu.Unlock()
	if !ok {
		return nil, errUnknownPeer
	}

	return p.RequestBlock(ctx, h)
}

// Penalize records the invalid block sent by the peer, the peer
// is disconnected and banned after maxPenalty offenses.
func (n *Network) Penalize(peer string, err error) {
	n.mu.Lock()
	n.penalty[peer]++
	count := n.penalty[peer]
	p := n.peers[peer]
	if count >= maxPenalty {
		delete(n.penalty, peer)
	}
	n.mu.Unlock()

	log.Warn("peer sent invalid block", "peer", peer, "count", count, "err", err)
	if count < maxPenalty {
		return
	}

	host, _, splitErr := net.SplitHostPort(peer)
	if splitErr != nil {
		host = peer
	}
	n.banned.Add(host, time.Now().Add(banDuration))
	if p != nil {
		p.Close()
	}
}

// Close closes the listener and all peer connections.
func (n *Network) Close() error {
	n.mu.Lock()
	n.closed = true
	ln := n.listener
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	if ln != nil {
		return ln.Close()
	}
	return nil
}

type handler struct {
	n *Network
}

func (h handler) Block(from string, b *consensus.Block) {
	h.n.recv.RecvBlock(from, b)
}

func (h handler) Txn(from string, txn []byte) {
	if h.n.recv.RecvTxn(txn) {
		h.n.relayTxn(txn, from)
	}
}

func (h handler) GetBlock(hash consensus.Hash) (*consensus.Block, error) {
	return h.n.recv.Block(hash)
}
