package network

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/helinwang/stakechain/pkg/consensus"
	log "github.com/inconshreveable/log15"
)

type packetType int

const (
	txnArg packetType = iota
	blockArg
	getBlockArg
	getBlockRet
	pingArg
	pingRet
)

type packet struct {
	T packetType
	// ID matches a return packet to its request.
	ID   uint64
	Data []byte
}

var (
	errPeerClosed    = errors.New("peer connection closed")
	errBlockNotFound = errors.New("block not found")
)

// Handler handles the packets received from a peer.
type Handler interface {
	Block(from string, b *consensus.Block)
	Txn(from string, txn []byte)
	// GetBlock returns the requested block, consensus.ErrNotFound
	// if it is unknown.
	GetBlock(h consensus.Hash) (*consensus.Block, error)
}

// Peer is a gob encoded packet stream over a TCP connection. The
// received blocks and transactions are forwarded to the handler,
// requests are answered from it.
type Peer struct {
	addr    string
	handler Handler
	conn    net.Conn
	enc     *gob.Encoder
	done    chan struct{}

	mu      sync.Mutex
	err     error
	nextID  uint64
	pending map[uint64]chan packet
}

// NewPeer creates a peer and starts reading from the connection.
func NewPeer(conn net.Conn, handler Handler) *Peer {
	p := &Peer{
		addr:    conn.RemoteAddr().String(),
		handler: handler,
		conn:    conn,
		enc:     gob.NewEncoder(conn),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan packet),
	}

	go p.read()
	return p
}

// Addr returns the remote address of the peer.
func (p *Peer) Addr() string {
	return p.addr
}

// Done is closed when the connection is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Close closes the connection.
func (p *Peer) Close() {
	p.onErr(errPeerClosed)
}

func (p *Peer) onErr(err error) {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}

	p.err = err
	p.pending = nil
	close(p.done)
	p.mu.Unlock()

	if err != errPeerClosed {
		log.Info("peer error, closing connection", "peer", p.addr, "err", err)
	}

	err = p.conn.Close()
	if err != nil {
		log.Debug("close TCP conn error", "err", err)
	}
}

func (p *Peer) read() {
	dec := gob.NewDecoder(p.conn)
	for {
		var pac packet
		err := dec.Decode(&pac)
		if err != nil {
			p.onErr(err)
			return
		}

		switch pac.T {
		case txnArg:
			p.handler.Txn(p.addr, pac.Data)
		case blockArg:
			var b consensus.Block
			err := b.Decode(pac.Data)
			if err != nil {
				p.onErr(fmt.Errorf("decode block: %v", err))
				return
			}

			p.handler.Block(p.addr, &b)
		case getBlockArg:
			var h consensus.Hash
			copy(h[:], pac.Data)
			ret := packet{T: getBlockRet, ID: pac.ID}
			b, err := p.handler.GetBlock(h)
			if err == nil {
				ret.Data = b.Encode()
			}

			err = p.write(ret)
			if err != nil {
				p.onErr(err)
				return
			}
		case pingArg:
			err := p.write(packet{T: pingRet, ID: pac.ID})
			if err != nil {
				p.onErr(err)
				return
			}
		case getBlockRet, pingRet:
			p.mu.Lock()
			ch, ok := p.pending[pac.ID]
			delete(p.pending, pac.ID)
			p.mu.Unlock()
			if ok {
				ch <- pac
			}
		default:
			p.onErr(fmt.Errorf("unrecognized packet type: %d", pac.T))
			return
		}
	}
}

func (p *Peer) write(pac packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	// must use the same encoder instance, rather than create a
	// new encoder each time. Otherwise decode would get error
	// "extra data in buffer".
	return p.enc.Encode(pac)
}

func (p *Peer) send(pac packet) error {
	err := p.write(pac)
	if err != nil {
		p.onErr(err)
	}
	return err
}

func (p *Peer) call(ctx context.Context, pac packet) (packet, error) {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return packet{}, p.err
	}

	p.nextID++
	pac.ID = p.nextID
	ch := make(chan packet, 1)
	p.pending[pac.ID] = ch
	p.mu.Unlock()

	err := p.send(pac)
	if err != nil {
		return packet{}, err
	}

	select {
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, pac.ID)
		p.mu.Unlock()
		return packet{}, ctx.Err()
	case <-p.done:
		return packet{}, errPeerClosed
	case ret := <-ch:
		return ret, nil
	}
}

// Txn sends the transaction to the peer.
func (p *Peer) Txn(txn []byte) error {
	return p.send(packet{T: txnArg, Data: txn})
}

// Block sends the block to the peer.
func (p *Peer) Block(b *consensus.Block) error {
	return p.send(packet{T: blockArg, Data: b.Encode()})
}

// Ping checks the peer is alive.
func (p *Peer) Ping(ctx context.Context) error {
	_, err := p.call(ctx, packet{T: pingArg})
	return err
}

// RequestBlock requests the block from the peer.
func (p *Peer) RequestBlock(ctx context.Context, h consensus.Hash) (*consensus.Block, error) {
	ret, err := p.call(ctx, packet{T: getBlockArg, Data: h[:]})
	if err != nil {
		return nil, err
	}

	if len(ret.Data) == 0 {
		return nil, errBlockNotFound
	}

	var b consensus.Block
	err = b.Decode(ret.Data)
	if err != nil {
		return nil, err
	}

	return &b, nil
}
