package consensus

import (
	lru "github.com/hashicorp/golang-lru"
)

// futureBuffer holds the candidates whose slot has not started yet.
// It is bounded, when full the oldest candidate is evicted.
type futureBuffer struct {
	cache *lru.Cache
}

func newFutureBuffer(max int) (*futureBuffer, error) {
	cache, err := lru.New(max)
	if err != nil {
		return nil, err
	}

	return &futureBuffer{cache: cache}, nil
}

// Add buffers the candidate unless a candidate of the same hash is
// buffered already. It reports whether another candidate was
// evicted.
func (f *futureBuffer) Add(c Candidate) (added, evicted bool) {
	ok, evicted := f.cache.ContainsOrAdd(c.hash, c)
	return !ok, evicted
}

func (f *futureBuffer) Contains(h Hash) bool {
	return f.cache.Contains(h)
}

func (f *futureBuffer) Len() int {
	return f.cache.Len()
}

// Ready removes and returns the candidates with a slot not after
// maxSlot, oldest first.
func (f *futureBuffer) Ready(maxSlot uint64) []Candidate {
	var ready []Candidate
	for _, k := range f.cache.Keys() {
		v, ok := f.cache.Peek(k)
		if !ok {
			continue
		}

		c := v.(Candidate)
		if c.Block.Slot() > maxSlot {
			continue
		}

		f.cache.Remove(k)
		ready = append(ready, c)
	}
	return ready
}
