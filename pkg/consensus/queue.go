package consensus

import (
	"context"
	"sync"
)

// candidateQueue is the bounded queue of candidates waiting for a
// validation worker. When full, the oldest candidate is evicted.
type candidateQueue struct {
	max int

	mu     sync.Mutex
	items  []Candidate
	closed bool
	notify chan struct{}
}

func newCandidateQueue(max int) *candidateQueue {
	return &candidateQueue{
		max:    max,
		notify: make(chan struct{}, 1),
	}
}

func (q *candidateQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push appends the candidate, it returns the evicted candidate if
// the queue was full.
func (q *candidateQueue) Push(c Candidate) (*Candidate, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var evicted *Candidate
	if len(q.items) >= q.max {
		e := q.items[0]
		evicted = &e
		q.items[0] = Candidate{}
		q.items = q.items[1:]
	}

	q.items = append(q.items, c)
	q.signal()
	return evicted, nil
}

// Pop blocks until a candidate is available, the context is done,
// or the queue is closed.
func (q *candidateQueue) Pop(ctx context.Context) (Candidate, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = Candidate{}
			q.items = q.items[1:]
			if len(q.items) > 0 && !q.closed {
				q.signal()
			}
			q.mu.Unlock()
			return c, nil
		}

		if q.closed {
			q.mu.Unlock()
			return Candidate{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Candidate{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued candidates.
func (q *candidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close closes the queue, queued candidates are still returned by
// Pop.
func (q *candidateQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	close(q.notify)
}
