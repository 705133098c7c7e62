package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func candidate(parent Hash, slot, salt uint64, peer string) Candidate {
	vb := testBlock(parent, slot, salt)
	return Candidate{Block: vb.Block, hash: vb.Hash, From: Provenance{Peer: peer}}
}

func TestOrphanBuffer(t *testing.T) {
	now := time.Now()
	b := NewOrphanBuffer(10, time.Minute)
	p := Hash{1}
	c0 := candidate(p, 2, 0, "a")
	c1 := candidate(p, 2, 1, "b")
	c2 := candidate(c0.hash, 3, 0, "a")

	for _, c := range []Candidate{c0, c1, c2} {
		evicted, added := b.Add(c, now)
		assert.True(t, added)
		assert.Empty(t, evicted)
	}

	_, added := b.Add(c0, now)
	assert.False(t, added)
	assert.Equal(t, 3, b.Len())
	assert.True(t, b.Contains(c2.hash))

	// c0 is buffered, only p is missing.
	assert.Equal(t, map[Hash]string{p: "a"}, b.Missing())

	taken := b.Take(p)
	assert.Equal(t, []Candidate{c0, c1}, taken)
	assert.Equal(t, 1, b.Len())
	assert.Nil(t, b.Take(p))
	assert.Equal(t, map[Hash]string{c0.hash: "a"}, b.Missing())
}

func TestOrphanBufferEvictsOldest(t *testing.T) {
	now := time.Now()
	b := NewOrphanBuffer(2, time.Minute)
	c0 := candidate(Hash{1}, 2, 0, "")
	c1 := candidate(Hash{2}, 2, 0, "")
	c2 := candidate(Hash{3}, 2, 0, "")
	b.Add(c0, now)
	b.Add(c1, now)
	evicted, added := b.Add(c2, now)
	assert.True(t, added)
	assert.Equal(t, []Candidate{c0}, evicted)
	assert.False(t, b.Contains(c0.hash))
	assert.Equal(t, 2, b.Len())
}

func TestOrphanBufferExpire(t *testing.T) {
	now := time.Now()
	b := NewOrphanBuffer(10, time.Minute)
	old := candidate(Hash{1}, 2, 0, "")
	far := candidate(Hash{2}, 100, 0, "")
	ok := candidate(Hash{3}, 5, 0, "")
	b.Add(old, now.Add(-2*time.Minute))
	b.Add(far, now)
	b.Add(ok, now)

	expired := b.Expire(now, 1, 10)
	assert.ElementsMatch(t, []Candidate{old, far}, expired)
	assert.Equal(t, 1, b.Len())

	dropped := b.DropBelow(5)
	assert.Equal(t, []Candidate{ok}, dropped)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Missing())
}
