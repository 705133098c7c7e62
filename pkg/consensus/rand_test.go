package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveRand(t *testing.T) {
	msg := []byte("hello")
	r := Rand(SHA3(msg))
	assert.Equal(t, "3338be694f50c5f338814986cdf0686453a888b84f424d792af4b9202398f392", fmt.Sprintf("%x", r[:]))
	assert.Equal(t, r.Derive(msg), r.Derive(msg))
	assert.NotEqual(t, r, r.Derive(msg))
	assert.Equal(t, Rand(SHA3(r[:], msg)), r.Derive(msg))
	assert.NotEqual(t, r.DeriveUint64(1), r.DeriveUint64(2))
}

func TestMod(t *testing.T) {
	r := Rand(SHA3([]byte{1}))
	assert.Equal(t, r.Mod(7), r.Mod(7))
	for n := uint64(1); n < 100; n++ {
		assert.True(t, r.Mod(n) < n)
	}
}

func TestPerm(t *testing.T) {
	r := Rand(SHA3([]byte{1}))
	assert.Equal(t, r.Perm(7, 7), r.Perm(7, 7))

	p := r.Perm(7, 7)
	seen := make(map[int]bool)
	for _, v := range p {
		assert.True(t, v >= 0 && v < 7)
		seen[v] = true
	}
	assert.Equal(t, 7, len(seen))
	assert.Equal(t, 3, len(r.Perm(3, 51)))
}

func TestWeightedPerm(t *testing.T) {
	r := Rand(SHA3([]byte{1}))
	weights := []uint64{10, 0, 5, 1}
	assert.Equal(t, r.WeightedPerm(3, weights), r.WeightedPerm(3, weights))

	// zero weights are never drawn, k is capped by the non-zero
	// weights.
	p := r.WeightedPerm(4, weights)
	assert.Equal(t, 3, len(p))
	assert.NotContains(t, p, 1)
	assert.Empty(t, r.WeightedPerm(2, []uint64{0, 0}))

	// a heavier weight ranks first more often.
	first := make(map[int]int)
	for i := 0; i < 1000; i++ {
		first[r.DeriveUint64(uint64(i)).WeightedPerm(1, []uint64{90, 10})[0]]++
	}
	assert.True(t, first[0] > first[1])
}

func TestSK(t *testing.T) {
	r := Rand(SHA3([]byte{1}))
	assert.Equal(t, r.SK(), r.SK())
	assert.NotEqual(t, r.SK(), r.Derive([]byte{1}).SK())
}
