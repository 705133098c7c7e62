package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEvictsOldest(t *testing.T) {
	q := newCandidateQueue(2)
	c0 := candidate(Hash{1}, 1, 0, "")
	c1 := candidate(Hash{1}, 1, 1, "")
	c2 := candidate(Hash{1}, 1, 2, "")

	for _, c := range []Candidate{c0, c1} {
		evicted, err := q.Push(c)
		require.Nil(t, err)
		assert.Nil(t, evicted)
	}

	evicted, err := q.Push(c2)
	require.Nil(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, c0.hash, evicted.hash)
	assert.Equal(t, 2, q.Len())

	ctx := context.Background()
	c, err := q.Pop(ctx)
	require.Nil(t, err)
	assert.Equal(t, c1.hash, c.hash)
	c, err = q.Pop(ctx)
	require.Nil(t, err)
	assert.Equal(t, c2.hash, c.hash)
}

func TestQueuePopBlocks(t *testing.T) {
	q := newCandidateQueue(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)

	done := make(chan Candidate)
	go func() {
		c, err := q.Pop(context.Background())
		assert.Nil(t, err)
		done <- c
	}()

	c0 := candidate(Hash{1}, 1, 0, "")
	_, err = q.Push(c0)
	require.Nil(t, err)
	assert.Equal(t, c0.hash, (<-done).hash)
}

func TestQueueClose(t *testing.T) {
	q := newCandidateQueue(2)
	c0 := candidate(Hash{1}, 1, 0, "")
	_, err := q.Push(c0)
	require.Nil(t, err)
	q.Close()

	_, err = q.Push(c0)
	assert.Equal(t, ErrQueueClosed, err)

	// queued candidates are drained first.
	c, err := q.Pop(context.Background())
	require.Nil(t, err)
	assert.Equal(t, c0.hash, c.hash)
	_, err = q.Pop(context.Background())
	assert.Equal(t, ErrQueueClosed, err)
}
