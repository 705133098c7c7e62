package consensus

// Compare compares the chains ending at a and b. It returns a
// positive number if a is preferred, negative if b is preferred and
// 0 only if a and b are the same block.
//
// The longer chain is preferred, equal length chains are ordered by
// the cumulative strength, then the lower block hash wins.
func Compare(a, b *BranchNode) int {
	switch {
	case a.Length > b.Length:
		return 1
	case a.Length < b.Length:
		return -1
	case a.Strength > b.Strength:
		return 1
	case a.Strength < b.Strength:
		return -1
	case a.Hash.Less(b.Hash):
		return 1
	case b.Hash.Less(a.Hash):
		return -1
	}
	return 0
}

// SelectTip returns the index of the preferred node. The result
// does not depend on the order of nodes.
func SelectTip(nodes []*BranchNode) int {
	best := 0
	for i := 1; i < len(nodes); i++ {
		if Compare(nodes[i], nodes[best]) > 0 {
			best = i
		}
	}
	return best
}
