package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierLatestTip(t *testing.T) {
	n := NewNotifier(1)
	s, err := n.Subscribe()
	require.Nil(t, err)

	_, err = n.Subscribe()
	assert.Equal(t, ErrTooManySubscribers, err)

	a := &BranchNode{Hash: Hash{1}}
	b := &BranchNode{Hash: Hash{2}}
	n.notifyTip(a)
	n.notifyTip(b)
	assert.Equal(t, b, <-s.Tip)

	for i := 0; i < blockEventBuffer+5; i++ {
		n.notifyBlock(&Block{})
	}
	assert.Equal(t, blockEventBuffer, len(s.Blocks))

	s.Close()
	s.Close()
	_, ok := <-s.Tip
	assert.False(t, ok)

	// the slot is free again.
	s, err = n.Subscribe()
	require.Nil(t, err)
	n.Close()
	_, ok = <-s.Tip
	assert.False(t, ok)
}
