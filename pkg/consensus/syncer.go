package consensus

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
)

const (
	syncRequestTimeout = 10 * time.Second
	syncQueueSize      = 256
	syncRecentSize     = 1024
)

type syncRequest struct {
	hash Hash
	peer string
}

// blockSyncer downloads the missing parents of orphan blocks.
//
// The synchronization steps:
// 1. an orphan block B is buffered, its parent P is unknown
// 2. request P from the peer that sent B
// 3. submit P as a candidate, if P's parent is unknown P becomes an
// orphan and its parent is requested, until the chain connects to
// the tree or reaches the finalized slot
// 4. once P is inserted, B is resolved from the orphan buffer
type blockSyncer struct {
	requester BlockRequester
	m         *TipManager
	ch        chan syncRequest
	// recently requested hashes, a hash is not requested again
	// until evicted.
	recent *lru.Cache
}

func newBlockSyncer(requester BlockRequester, m *TipManager) *blockSyncer {
	c, err := lru.New(syncRecentSize)
	if err != nil {
		panic(err)
	}

	return &blockSyncer{
		requester: requester,
		m:         m,
		ch:        make(chan syncRequest, syncQueueSize),
		recent:    c,
	}
}

// request queues the download of the block, it never blocks.
func (s *blockSyncer) request(h Hash, peer string) {
	if peer == "" {
		return
	}

	if ok, _ := s.recent.ContainsOrAdd(h, struct{}{}); ok {
		return
	}

	select {
	case s.ch <- syncRequest{hash: h, peer: peer}:
	default:
		s.recent.Remove(h)
		log.Debug("sync request queue full", "hash", h)
	}
}

func (s *blockSyncer) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.ch:
			s.sync(ctx, r)
		}
	}
}

func (s *blockSyncer) sync(ctx context.Context, r syncRequest) {
	if s.m.tree.Contains(r.hash) || s.m.orphans.Contains(r.hash) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, syncRequestTimeout)
	b, err := s.requester.RequestBlock(ctx, r.peer, r.hash)
	cancel()
	if err != nil {
		log.Debug("request block failed", "hash", r.hash, "peer", r.peer, "err", err)
		s.recent.Remove(r.hash)
		return
	}

	if b.Hash() != r.hash {
		s.m.deps.Reputation.Penalize(r.peer, invalid(r.hash, ErrParentMismatch))
		return
	}

	// the next orphan check requests the block again, possibly
	// from another peer.
	if ContentHash(b.Txns) != b.Header.ContentHash {
		log.Debug("synced block body does not match its header", "hash", r.hash, "peer", r.peer)
		s.m.deps.Reputation.Penalize(r.peer, invalid(r.hash, ErrContentHash))
		s.recent.Remove(r.hash)
		return
	}

	err = s.m.Submit(Candidate{Block: b, From: Provenance{Peer: r.peer}})
	if err != nil {
		log.Debug("synced block not accepted", "hash", r.hash, "err", err)
	}
}
