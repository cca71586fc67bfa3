package merkle

import (
	"fmt"
	"strings"
)

// Visualizer renders a tree as text for the inspect command.
type Visualizer struct {
	tree *Tree

	// MaxPerLevel caps the hashes printed per level; 0 prints all of them.
	MaxPerLevel int
}

func NewVisualizer(tree *Tree) *Visualizer {
	return &Visualizer{tree: tree, MaxPerLevel: 8}
}

// VisualizeTree prints one line per level, root first.
func (v *Visualizer) VisualizeTree() string {
	var sb strings.Builder
	sb.WriteString("Merkle Tree Visualization\n")
	sb.WriteString("========================\n\n")

	for level := v.tree.Top(); level >= 0; level-- {
		row := v.tree.Level(level)
		sb.WriteString(fmt.Sprintf("L%d (%d): ", level, len(row)))
		shown := len(row)
		if v.MaxPerLevel > 0 && shown > v.MaxPerLevel {
			shown = v.MaxPerLevel
		}
		for i := range shown {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(row[i].Short())
		}
		if shown < len(row) {
			sb.WriteString(fmt.Sprintf(" ... +%d", len(row)-shown))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// VisualizePath shows the hashes from the root down to leaf i, with the
// sibling compared at every step.
func (v *Visualizer) VisualizePath(leaf int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Path to block %d\n", leaf))
	sb.WriteString("=====================\n\n")

	if leaf < 0 || leaf >= v.tree.Blocks() {
		sb.WriteString(fmt.Sprintf("block %d out of range [0,%d)\n", leaf, v.tree.Blocks()))
		return sb.String()
	}
	for level := v.tree.Top(); level >= 0; level-- {
		idx := leaf >> level
		n := Node{Level: level, Index: idx}
		sb.WriteString(fmt.Sprintf("L%d %s %s", level, n, v.tree.Hash(n).Short()))
		sib := Node{Level: level, Index: idx ^ 1}
		if level < v.tree.Top() && v.tree.Contains(sib) {
			sb.WriteString(fmt.Sprintf("  sibling %s %s", sib, v.tree.Hash(sib).Short()))
		}
		sb.WriteString("\n")
	}
	off, n := v.tree.BlockRange(leaf)
	sb.WriteString(fmt.Sprintf("\nbytes [%d,%d)\n", off, off+n))
	return sb.String()
}

// GetTreeStats returns the tree shape as text.
func (v *Visualizer) GetTreeStats() string {
	var sb strings.Builder
	sb.WriteString("Merkle Tree Statistics\n")
	sb.WriteString("======================\n\n")

	st := v.tree.Stats()
	sb.WriteString(fmt.Sprintf("Digest: %s\n", st.Digest))
	sb.WriteString(fmt.Sprintf("Size: %d bytes\n", st.Size))
	sb.WriteString(fmt.Sprintf("Block size: %d bytes\n", st.BlockSize))
	sb.WriteString(fmt.Sprintf("Blocks: %d\n", st.Blocks))
	sb.WriteString(fmt.Sprintf("Tree height: %d\n", st.Height))
	sb.WriteString(fmt.Sprintf("Total nodes: %d\n", st.Nodes))
	sb.WriteString(fmt.Sprintf("Root: %x\n", v.tree.Root()))
	return sb.String()
}
