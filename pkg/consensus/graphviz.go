package consensus

import (
	"fmt"
	"strings"
)

// Graphviz returns the Graphviz format encoded block tree
// visualization. The finalized root, the tip and the buffered
// orphans are highlighted.
func (m *TipManager) Graphviz() string {
	const (
		arrow = " -> "
		begin = `digraph chain {
rankdir=LR;
size="12,8"`
		end = `}
`
		finalizedNode    = `node [shape = rect, style=filled, color = chartreuse2];`
		tipNode          = `node [shape = rect, style=filled, color = gold];`
		notFinalizedNode = `node [shape = rect, style=filled, color = aquamarine];`
		orphanNode       = `node [shape = octagon, style=filled, color = aliceblue];`
	)

	name := func(h Hash) string {
		return fmt.Sprintf("block_%x", h[:4])
	}

	finalized := finalizedNode
	tips := tipNode
	notFinalized := notFinalizedNode
	orphans := orphanNode
	var graph strings.Builder

	tip := m.Tip().Hash
	m.tree.walk(func(n, parent *BranchNode) {
		str := name(n.Hash)
		switch {
		case parent == nil:
			finalized += " " + str
		case n.Hash == tip:
			tips += " " + str
		default:
			notFinalized += " " + str
		}

		if parent != nil {
			graph.WriteString(name(parent.Hash) + arrow + str + "\n")
		}
	})

	for parent := range m.orphans.Missing() {
		str := fmt.Sprintf("missing_%x", parent[:4])
		orphans += " " + str
	}

	return strings.Join([]string{begin, finalized, tips, notFinalized, orphans, graph.String(), end}, "\n")
}
