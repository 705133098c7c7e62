package consensus

import (
	"context"
	"time"
)

// Provenance tells where a candidate block came from.
type Provenance struct {
	// Peer is the address of the peer that sent the block, it
	// is empty for locally produced blocks.
	Peer  string
	Local bool
}

// LocalProvenance is the provenance of locally produced blocks.
var LocalProvenance = Provenance{Local: true}

// Candidate is a block waiting to be validated.
type Candidate struct {
	Block *Block
	From  Provenance

	hash     Hash
	received time.Time
}

// Broadcaster relays blocks to the network.
type Broadcaster interface {
	BroadcastBlock(b *Block)
}

// Reputation is notified when a peer sent an invalid block.
type Reputation interface {
	Penalize(peer string, err error)
}

// BlockRequester fetches a block from a peer.
type BlockRequester interface {
	RequestBlock(ctx context.Context, peer string, h Hash) (*Block, error)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastBlock(*Block) {}

type nopReputation struct{}

func (nopReputation) Penalize(string, error) {}
