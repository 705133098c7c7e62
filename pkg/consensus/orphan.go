package consensus

import (
	"sync"
	"time"

	"github.com/google/btree"
)

const orphanTreeDegree = 8

type orphan struct {
	seq   uint64
	c     Candidate
	added time.Time
}

func (o *orphan) less(other *orphan) bool {
	return o.seq < other.seq
}

// OrphanBuffer holds the blocks whose parent is not in the tree yet,
// indexed by the missing parent. It is bounded, when full the oldest
// orphan is evicted.
type OrphanBuffer struct {
	max int
	ttl time.Duration

	mu       sync.Mutex
	seq      uint64
	bySeq    *btree.BTreeG[*orphan]
	byHash   map[Hash]*orphan
	byParent map[Hash][]*orphan
}

// NewOrphanBuffer creates a new orphan buffer.
func NewOrphanBuffer(max int, ttl time.Duration) *OrphanBuffer {
	return &OrphanBuffer{
		max:      max,
		ttl:      ttl,
		bySeq:    btree.NewG(orphanTreeDegree, (*orphan).less),
		byHash:   make(map[Hash]*orphan),
		byParent: make(map[Hash][]*orphan),
	}
}

// Len returns the number of orphans.
func (b *OrphanBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byHash)
}

// Contains reports whether the block is buffered.
func (b *OrphanBuffer) Contains(h Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.byHash[h]
	return ok
}

// Add buffers the candidate. It returns the evicted orphans and
// false if the candidate is already buffered.
func (b *OrphanBuffer) Add(c Candidate, now time.Time) ([]Candidate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byHash[c.hash]; ok {
		return nil, false
	}

	var evicted []Candidate
	for len(b.byHash) >= b.max {
		oldest, ok := b.bySeq.Min()
		if !ok {
			break
		}
		b.remove(oldest)
		evicted = append(evicted, oldest.c)
	}

	b.seq++
	o := &orphan{seq: b.seq, c: c, added: now}
	b.bySeq.ReplaceOrInsert(o)
	b.byHash[c.hash] = o
	parent := c.Block.Parent()
	b.byParent[parent] = append(b.byParent[parent], o)
	return evicted, true
}

// Take removes and returns the orphans waiting for the parent,
// oldest first.
func (b *OrphanBuffer) Take(parent Hash) []Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	os := b.byParent[parent]
	if len(os) == 0 {
		return nil
	}

	r := make([]Candidate, 0, len(os))
	for _, o := range append([]*orphan(nil), os...) {
		b.remove(o)
		r = append(r, o.c)
	}
	return r
}

// Expire removes the orphans older than the TTL and the orphans
// whose slot is more than maxLead ahead of the tip slot.
func (b *OrphanBuffer) Expire(now time.Time, tipSlot, maxLead uint64) []Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []*orphan
	b.bySeq.Ascend(func(o *orphan) bool {
		if now.Sub(o.added) > b.ttl || o.c.Block.Slot() > tipSlot+maxLead {
			expired = append(expired, o)
		}
		return true
	})

	r := make([]Candidate, len(expired))
	for i, o := range expired {
		b.remove(o)
		r[i] = o.c
	}
	return r
}

// DropBelow removes the orphans at or below the finalized slot,
// they can never connect to the tree.
func (b *OrphanBuffer) DropBelow(slot uint64) []Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	var drop []*orphan
	b.bySeq.Ascend(func(o *orphan) bool {
		if o.c.Block.Slot() <= slot {
			drop = append(drop, o)
		}
		return true
	})

	r := make([]Candidate, len(drop))
	for i, o := range drop {
		b.remove(o)
		r[i] = o.c
	}
	return r
}

// Missing returns the missing parents of the buffered orphan
// chains, each with the peer that sent the orphan.
func (b *OrphanBuffer) Missing() map[Hash]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := make(map[Hash]string)
	for parent, os := range b.byParent {
		if _, ok := b.byHash[parent]; ok {
			continue
		}
		r[parent] = os[0].c.From.Peer
	}
	return r
}

// must be called with mutex held.
func (b *OrphanBuffer) remove(o *orphan) {
	b.bySeq.Delete(o)
	delete(b.byHash, o.c.hash)
	parent := o.c.Block.Parent()
	os := b.byParent[parent]
	for i, e := range os {
		if e == o {
			os = append(os[:i], os[i+1:]...)
			break
		}
	}

	if len(os) == 0 {
		delete(b.byParent, parent)
	} else {
		b.byParent[parent] = os
	}
}
