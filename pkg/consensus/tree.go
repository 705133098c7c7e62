package consensus

import (
	"errors"
	"sort"
	"sync"
)

// BranchNode is a block in the block tree together with the ledger
// snapshot after applying it. It is immutable once inserted.
type BranchNode struct {
	Block    *Block
	Hash     Hash
	Snapshot Snapshot
	// Length is the number of blocks from genesis, genesis has
	// length 0.
	Length uint64
	// Strength is the cumulative leader strength of the chain.
	Strength uint64
	// Rank is the leader's rank in the block's slot.
	Rank int
}

// Slot returns the slot of the node's block.
func (n *BranchNode) Slot() uint64 {
	return n.Block.Header.Slot
}

// Parent returns the hash of the parent block.
func (n *BranchNode) Parent() Hash {
	return n.Block.Header.Parent
}

type treeEntry struct {
	node     *BranchNode
	parent   int32
	children []int32
}

type finalizedEntry struct {
	Slot  uint64
	Hash  Hash
	Stake StakeDistribution
}

var errUnknownBlock = errors.New("block not in tree")

// Tree is the tree of the non-finalized blocks rooted at the last
// finalized block. The nodes are kept in an arena, parent and
// children links are indices into it.
type Tree struct {
	mu      sync.RWMutex
	entries []treeEntry
	index   map[Hash]int32
	heads   map[int32]struct{}
	root    int32
	tip     int32
	// history is the finalized chain below and including the
	// root, sorted by slot. It answers the stake lookups of
	// schedules whose stability point is already finalized.
	history []finalizedEntry
}

// NewTree creates a tree rooted at the given finalized node.
// history is the finalized chain before root, sorted by slot.
func NewTree(root *BranchNode, history []finalizedEntry) *Tree {
	h := make([]finalizedEntry, 0, len(history)+1)
	for _, e := range history {
		if e.Slot < root.Slot() {
			h = append(h, e)
		}
	}
	h = append(h, finalizedEntry{Slot: root.Slot(), Hash: root.Hash, Stake: root.Snapshot.Stake()})

	t := &Tree{
		entries: []treeEntry{{node: root, parent: -1}},
		index:   map[Hash]int32{root.Hash: 0},
		heads:   map[int32]struct{}{0: {}},
		history: h,
	}
	return t
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Get returns the node of the given hash.
func (t *Tree) Get(h Hash) (*BranchNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.index[h]
	if !ok {
		return nil, false
	}
	return t.entries[idx].node, true
}

// Contains reports whether the block is in the tree.
func (t *Tree) Contains(h Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[h]
	return ok
}

// Root returns the last finalized block.
func (t *Tree) Root() *BranchNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[t.root].node
}

// Tip returns the canonical head.
func (t *Tree) Tip() *BranchNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[t.tip].node
}

// Heads returns the nodes without children.
func (t *Tree) Heads() []*BranchNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r := make([]*BranchNode, 0, len(t.heads))
	for idx := range t.heads {
		r = append(r, t.entries[idx].node)
	}
	sort.Slice(r, func(i, j int) bool {
		return Compare(r[i], r[j]) > 0
	})
	return r
}

// Insert inserts the validated block with the snapshot resulting
// from applying it. The returned bool is true if the new node
// became the tip.
func (t *Tree) Insert(vb *ValidatedBlock, snapshot Snapshot) (*BranchNode, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.index[vb.Hash]; ok {
		return t.entries[idx].node, false, &TreeError{Kind: Duplicate, Block: vb.Hash, Parent: vb.Parent()}
	}

	pIdx, ok := t.index[vb.Parent()]
	if !ok {
		return nil, false, &TreeError{Kind: UnknownParent, Block: vb.Hash, Parent: vb.Parent()}
	}

	parent := t.entries[pIdx].node
	n := &BranchNode{
		Block:    vb.Block,
		Hash:     vb.Hash,
		Snapshot: snapshot,
		Length:   parent.Length + 1,
		Strength: parent.Strength + vb.Strength,
		Rank:     vb.Rank,
	}

	idx := int32(len(t.entries))
	t.entries = append(t.entries, treeEntry{node: n, parent: pIdx})
	t.entries[pIdx].children = append(t.entries[pIdx].children, idx)
	t.index[n.Hash] = idx
	delete(t.heads, pIdx)
	t.heads[idx] = struct{}{}

	// the tip is maximal among the heads before the insertion,
	// only the new head can beat it.
	if Compare(n, t.entries[t.tip].node) > 0 {
		t.tip = idx
		return n, true, nil
	}
	return n, false, nil
}

// Ancestor returns the ancestor of the block at the given length,
// the block itself if its length equals length.
func (t *Tree) Ancestor(h Hash, length uint64) (*BranchNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.index[h]
	if !ok {
		return nil, false
	}

	for idx >= 0 {
		n := t.entries[idx].node
		if n.Length == length {
			return n, true
		}
		if n.Length < length {
			return nil, false
		}
		idx = t.entries[idx].parent
	}
	return nil, false
}

// IsAncestor reports whether a is an ancestor of b or b itself.
func (t *Tree) IsAncestor(a, b Hash) bool {
	an, ok := t.Get(a)
	if !ok {
		return false
	}

	n, ok := t.Ancestor(b, an.Length)
	return ok && n.Hash == a
}

// CommonAncestor returns the latest common ancestor of a and b.
func (t *Tree) CommonAncestor(a, b Hash) (*BranchNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ai, ok := t.index[a]
	if !ok {
		return nil, false
	}
	bi, ok := t.index[b]
	if !ok {
		return nil, false
	}

	for ai != bi {
		if ai < 0 || bi < 0 {
			return nil, false
		}

		// a parent always has a smaller index than its
		// children.
		if ai > bi {
			ai = t.entries[ai].parent
		} else {
			bi = t.entries[bi].parent
		}
	}

	if ai < 0 {
		return nil, false
	}
	return t.entries[ai].node, true
}

// StakeAt returns the latest block at or before the slot on the
// branch ending at from, and the stake distribution after it.
func (t *Tree) StakeAt(from Hash, slot uint64) (Hash, StakeDistribution, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.index[from]
	if !ok {
		return Hash{}, nil, errUnknownBlock
	}

	for idx >= 0 {
		n := t.entries[idx].node
		if n.Slot() <= slot {
			return n.Hash, n.Snapshot.Stake(), nil
		}
		idx = t.entries[idx].parent
	}

	// below the root, find in the finalized history.
	i := sort.Search(len(t.history), func(i int) bool {
		return t.history[i].Slot > slot
	})
	if i == 0 {
		return Hash{}, nil, errors.New("stability point before the earliest known finalized block")
	}

	e := t.history[i-1]
	return e.Hash, e.Stake, nil
}

// Prune makes the given block the new root. It returns the newly
// finalized blocks from the old root (exclusive) to the new root
// (inclusive), and the blocks removed because they do not descend
// from the new root.
func (t *Tree) Prune(newRoot Hash) (finalized, removed []*BranchNode, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rIdx, ok := t.index[newRoot]
	if !ok {
		return nil, nil, errUnknownBlock
	}

	for idx := rIdx; idx != t.root; idx = t.entries[idx].parent {
		if idx < 0 {
			return nil, nil, ErrBelowFinalized
		}
		finalized = append(finalized, t.entries[idx].node)
	}
	for i, j := 0, len(finalized)-1; i < j; i, j = i+1, j-1 {
		finalized[i], finalized[j] = finalized[j], finalized[i]
	}

	keep := make(map[int32]bool)
	stack := []int32{rIdx}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		keep[idx] = true
		stack = append(stack, t.entries[idx].children...)
	}

	for idx, e := range t.entries {
		if int32(idx) != t.root && !keep[int32(idx)] && !onPath(finalized, e.node) {
			removed = append(removed, e.node)
		}
	}

	// rebuild the arena with only the kept nodes, parents are
	// visited before children since children always have a
	// larger index.
	remap := make(map[int32]int32, len(keep))
	entries := make([]treeEntry, 0, len(keep))
	index := make(map[Hash]int32, len(keep))
	for idx, e := range t.entries {
		if !keep[int32(idx)] {
			continue
		}

		nIdx := int32(len(entries))
		remap[int32(idx)] = nIdx
		parent := int32(-1)
		if int32(idx) != rIdx {
			parent = remap[e.parent]
		}
		entries = append(entries, treeEntry{node: e.node, parent: parent})
		index[e.node.Hash] = nIdx
		if parent >= 0 {
			entries[parent].children = append(entries[parent].children, nIdx)
		}
	}

	heads := make(map[int32]struct{})
	for idx, e := range entries {
		if len(e.children) == 0 {
			heads[int32(idx)] = struct{}{}
		}
	}

	t.entries = entries
	t.index = index
	t.heads = heads
	t.root = 0
	t.tip = t.selectTip()

	for _, n := range finalized {
		t.history = append(t.history, finalizedEntry{Slot: n.Slot(), Hash: n.Hash, Stake: n.Snapshot.Stake()})
	}
	return finalized, removed, nil
}

func onPath(path []*BranchNode, n *BranchNode) bool {
	for _, p := range path {
		if p == n {
			return true
		}
	}
	return false
}

// must be called with mutex held.
func (t *Tree) selectTip() int32 {
	nodes := make([]*BranchNode, 0, len(t.heads))
	idxs := make([]int32, 0, len(t.heads))
	for idx := range t.heads {
		nodes = append(nodes, t.entries[idx].node)
		idxs = append(idxs, idx)
	}

	return idxs[SelectTip(nodes)]
}

// TrimHistory drops the finalized history entries not needed for
// stake lookups at or after minSlot. The latest entry at or before
// minSlot is kept.
func (t *Tree) TrimHistory(minSlot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.history), func(i int) bool {
		return t.history[i].Slot > minSlot
	})
	if i <= 1 {
		return
	}

	t.history = append([]finalizedEntry(nil), t.history[i-1:]...)
}

// walk calls fn for every node, parents before children.
func (t *Tree) walk(fn func(n *BranchNode, parent *BranchNode)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		var p *BranchNode
		if e.parent >= 0 {
			p = t.entries[e.parent].node
		}
		fn(e.node, p)
	}
}
