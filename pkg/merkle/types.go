package merkle

import (
	"fmt"

	"github.com/juanpablocruz/merklediff/pkg/digest"
)

type Hash = digest.Hash

// Node addresses one tree node. Level 0 holds the leaves (one per block),
// the root sits at Tree.Top().
type Node struct {
	Level int
	Index int
}

func (n Node) String() string { return fmt.Sprintf("(%d,%d)", n.Level, n.Index) }

// Stats describe the shape of a built tree.
type Stats struct {
	Size      int64
	BlockSize int64
	Blocks    int
	Height    int
	Nodes     int
	Digest    string
}

func (s Stats) String() string {
	return fmt.Sprintf("Size: %d, BlockSize: %d, Blocks: %d, Height: %d, Nodes: %d, Digest: %s",
		s.Size, s.BlockSize, s.Blocks, s.Height, s.Nodes, s.Digest)
}
