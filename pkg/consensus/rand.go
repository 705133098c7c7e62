package consensus

import (
	"encoding/binary"
)

// Rand is a deterministic random value, every value derived from it
// is reproducible on every node.
type Rand Hash

// Derive derives a new random value from r and the given message.
func (r Rand) Derive(msg []byte) Rand {
	return Rand(SHA3(r[:], msg))
}

// DeriveUint64 derives a new random value from r and the given
// number.
func (r Rand) DeriveUint64(v uint64) Rand {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return r.Derive(b[:])
}

// Mod returns the random value modulo n.
func (r Rand) Mod(n uint64) uint64 {
	return hashMod(Hash(r), n)
}

// Perm returns the first k elements of a random permutation of
// [0, n).
func (r Rand) Perm(k, n int) []int {
	arr := make([]int, n)
	for i := range arr {
		arr[i] = i
	}

	ret := make([]int, k)
	for i := 0; i < k; i++ {
		j := int(r.Mod(uint64(n - i)))
		r = r.Derive(r[:])
		ret[i] = arr[j]
		arr[j] = arr[n-i-1]
	}
	return ret
}

// WeightedPerm returns the first k indices of a weighted random
// permutation: index i is drawn with probability proportional to
// weights[i] among the remaining indices. Zero weight indices are
// never drawn.
func (r Rand) WeightedPerm(k int, weights []uint64) []int {
	remain := make([]uint64, len(weights))
	copy(remain, weights)

	var total uint64
	for _, w := range remain {
		total += w
	}

	ret := make([]int, 0, k)
	for len(ret) < k && total > 0 {
		target := r.Mod(total)
		r = r.Derive(r[:])
		var acc uint64
		for i, w := range remain {
			acc += w
			if target < acc {
				ret = append(ret, i)
				total -= w
				remain[i] = 0
				break
			}
		}
	}
	return ret
}

// SK returns a secret key derived from the random value.
func (r Rand) SK() SK {
	sk, err := skFromSeed(r[:])
	if err != nil {
		// the chance of a seed outside of the curve order is
		// negligible, derive again in that case.
		return r.Derive(r[:]).SK()
	}
	return sk
}
