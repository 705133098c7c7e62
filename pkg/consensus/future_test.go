package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func futureCandidate(slot uint64) Candidate {
	vb := testBlock(Hash{}, slot, 0)
	return Candidate{Block: vb.Block, hash: vb.Hash}
}

func TestFutureBuffer(t *testing.T) {
	f, err := newFutureBuffer(3)
	require.Nil(t, err)

	added, evicted := f.Add(futureCandidate(9))
	assert.True(t, added)
	assert.False(t, evicted)

	added, _ = f.Add(futureCandidate(9))
	assert.False(t, added)
	assert.Equal(t, 1, f.Len())

	f.Add(futureCandidate(7))
	f.Add(futureCandidate(8))
	added, evicted = f.Add(futureCandidate(6))
	assert.True(t, added)
	assert.True(t, evicted)
	assert.Equal(t, 3, f.Len())
	assert.False(t, f.Contains(futureCandidate(9).hash))

	assert.Empty(t, f.Ready(5))

	ready := f.Ready(7)
	require.Equal(t, 2, len(ready))
	assert.Equal(t, uint64(7), ready[0].Block.Slot())
	assert.Equal(t, uint64(6), ready[1].Block.Slot())
	assert.Equal(t, 1, f.Len())
	assert.True(t, f.Contains(futureCandidate(8).hash))
}
