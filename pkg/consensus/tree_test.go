package consensus

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeInsert(t *testing.T) {
	root := testRoot(nil)
	tree := NewTree(root, nil)

	vb := testBlock(root.Hash, 1, 0)
	vb.Strength = 5
	n, isTip, err := tree.Insert(vb, root.Snapshot)
	require.Nil(t, err)
	assert.True(t, isTip)
	assert.Equal(t, uint64(1), n.Length)
	assert.Equal(t, uint64(5), n.Strength)
	assert.Equal(t, n, tree.Tip())

	// duplicate returns the existing node.
	n1, isTip, err := tree.Insert(vb, root.Snapshot)
	var te *TreeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, Duplicate, te.Kind)
	assert.False(t, isTip)
	assert.Equal(t, n, n1)
	assert.Equal(t, 2, tree.Len())

	_, _, err = tree.Insert(testBlock(Hash{9}, 2, 0), root.Snapshot)
	assert.True(t, IsUnknownParent(err))
	assert.Equal(t, 2, tree.Len())
}

func TestTreeTipIncremental(t *testing.T) {
	root := testRoot(nil)
	tree := NewTree(root, nil)

	a := insert(tree, root, 1, 10, 0)
	b := insert(tree, root, 1, 5, 1)
	assert.Equal(t, a, tree.Tip())
	assert.Equal(t, []*BranchNode{a, b}, tree.Heads())

	// a longer branch wins over a stronger one.
	b2 := insert(tree, b, 2, 1, 0)
	assert.Equal(t, b2, tree.Tip())
	assert.Equal(t, []*BranchNode{b2, a}, tree.Heads())
}

func TestTreeAncestry(t *testing.T) {
	root := testRoot(nil)
	tree := NewTree(root, nil)

	a := insert(tree, root, 1, 1, 0)
	b := insert(tree, root, 2, 1, 1)
	a2 := insert(tree, a, 3, 1, 0)
	a3 := insert(tree, a2, 4, 1, 0)
	b2 := insert(tree, b, 5, 1, 0)

	n, ok := tree.Ancestor(a3.Hash, 1)
	require.True(t, ok)
	assert.Equal(t, a, n)
	_, ok = tree.Ancestor(a.Hash, 2)
	assert.False(t, ok)

	assert.True(t, tree.IsAncestor(root.Hash, a3.Hash))
	assert.True(t, tree.IsAncestor(a.Hash, a3.Hash))
	assert.True(t, tree.IsAncestor(a3.Hash, a3.Hash))
	assert.False(t, tree.IsAncestor(b.Hash, a3.Hash))

	c, ok := tree.CommonAncestor(a3.Hash, b2.Hash)
	require.True(t, ok)
	assert.Equal(t, root, c)
	c, ok = tree.CommonAncestor(a3.Hash, a2.Hash)
	require.True(t, ok)
	assert.Equal(t, a2, c)
}

func TestTreeStakeAt(t *testing.T) {
	s0 := StakeDistribution{{Pool: Addr{1}, Stake: 1}}
	s1 := StakeDistribution{{Pool: Addr{1}, Stake: 2}}
	old := finalizedEntry{Slot: 0, Hash: Hash{7}, Stake: StakeDistribution{{Pool: Addr{1}, Stake: 9}}}
	b := &Block{Header: Header{Slot: 10}}
	root := &BranchNode{Block: b, Hash: b.Hash(), Length: 3, Snapshot: &testSnapshot{stake: s0}}
	tree := NewTree(root, []finalizedEntry{old})

	vb := testBlock(root.Hash, 12, 0)
	n, _, err := tree.Insert(vb, &testSnapshot{stake: s1})
	require.Nil(t, err)

	h, stake, err := tree.StakeAt(n.Hash, 12)
	require.Nil(t, err)
	assert.Equal(t, n.Hash, h)
	assert.Equal(t, s1, stake)

	h, stake, err = tree.StakeAt(n.Hash, 11)
	require.Nil(t, err)
	assert.Equal(t, root.Hash, h)
	assert.Equal(t, s0, stake)

	h, stake, err = tree.StakeAt(n.Hash, 5)
	require.Nil(t, err)
	assert.Equal(t, old.Hash, h)
	assert.Equal(t, old.Stake, stake)

	tree.TrimHistory(10)
	_, _, err = tree.StakeAt(n.Hash, 5)
	assert.NotNil(t, err)

	_, _, err = tree.StakeAt(Hash{1}, 5)
	assert.Equal(t, errUnknownBlock, err)
}

func TestTreePrune(t *testing.T) {
	root := testRoot(nil)
	tree := NewTree(root, nil)

	a := insert(tree, root, 1, 10, 0)
	b := insert(tree, root, 1, 5, 1)
	b2 := insert(tree, b, 2, 5, 0)
	c := insert(tree, a, 2, 10, 0)
	d := insert(tree, c, 3, 10, 0)
	d2 := insert(tree, c, 4, 5, 1)
	assert.Equal(t, d, tree.Tip())

	finalized, removed, err := tree.Prune(c.Hash)
	require.Nil(t, err)
	assert.Equal(t, []*BranchNode{a, c}, finalized)
	assert.ElementsMatch(t, []*BranchNode{b, b2}, removed)
	assert.Equal(t, c, tree.Root())
	assert.Equal(t, d, tree.Tip())
	assert.Equal(t, 3, tree.Len())
	assert.False(t, tree.Contains(root.Hash))
	assert.False(t, tree.Contains(b.Hash))
	assert.True(t, tree.Contains(d2.Hash))
	assert.ElementsMatch(t, []*BranchNode{d, d2}, tree.Heads())

	// the finalized blocks are in the stake history.
	h, _, err := tree.StakeAt(d.Hash, 1)
	require.Nil(t, err)
	assert.Equal(t, a.Hash, h)

	_, _, err = tree.Prune(b.Hash)
	assert.Equal(t, errUnknownBlock, err)

	// inserting after prune still works.
	e := insert(tree, d2, 5, 1, 0)
	assert.Equal(t, e, tree.Tip())
}

func TestPruneKeepsTipAncestors(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for round := 0; round < 20; round++ {
		root := testRoot(nil)
		tree := NewTree(root, nil)
		nodes := []*BranchNode{root}
		for i := 0; i < 40; i++ {
			p := nodes[r.Intn(len(nodes))]
			nodes = append(nodes, insert(tree, p, p.Slot()+1+uint64(r.Intn(2)), uint64(r.Intn(5)), uint64(i)))
		}

		tip := tree.Tip()
		target := tip.Length / 2
		newRoot, ok := tree.Ancestor(tip.Hash, target)
		require.True(t, ok)

		var ancestors []*BranchNode
		for l := target; l <= tip.Length; l++ {
			n, ok := tree.Ancestor(tip.Hash, l)
			require.True(t, ok)
			ancestors = append(ancestors, n)
		}

		_, removed, err := tree.Prune(newRoot.Hash)
		require.Nil(t, err)
		assert.Equal(t, tip, tree.Tip())
		for _, n := range ancestors {
			assert.True(t, tree.Contains(n.Hash))
			assert.NotContains(t, removed, n)
		}
		for _, n := range removed {
			assert.False(t, tree.IsAncestor(n.Hash, tip.Hash))
		}
	}
}
