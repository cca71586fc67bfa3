// Package merkle builds the binary hash tree of a byte source, one leaf per
// fixed-size block.
package merkle

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/source"
)

var ErrBlockSize = errors.New("block size must be positive")

// Tree is immutable once built and safe for concurrent reads.
type Tree struct {
	levels    [][]Hash
	size      int64
	blockSize int64
	digest    digest.Digest
}

type config struct {
	workers  int
	progress func(n int64)
}

type Option func(*config)

// WithWorkers bounds the number of goroutines hashing leaves. n <= 0 means
// runtime.NumCPU().
func WithWorkers(n int) Option { return func(c *config) { c.workers = n } }

// WithProgress registers a callback receiving the number of bytes hashed
// since the previous call. It may be called from several goroutines.
func WithProgress(fn func(n int64)) Option { return func(c *config) { c.progress = fn } }

// BlockCount is ceil(size/blockSize), and 1 for an empty source.
func BlockCount(size, blockSize int64) int {
	if size == 0 {
		return 1
	}
	return int((size + blockSize - 1) / blockSize)
}

// Build hashes every block of src and folds the leaves pairwise up to a
// single root. An odd trailing node is carried to the next level unchanged.
func Build(ctx context.Context, src source.Source, blockSize int64, d digest.Digest, opts ...Option) (*Tree, error) {
	if blockSize <= 0 {
		return nil, ErrBlockSize
	}
	if d == nil {
		d = digest.Default()
	}
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}

	t := &Tree{size: src.Size(), blockSize: blockSize, digest: d}
	leaves, err := t.hashLeaves(ctx, src, cfg)
	if err != nil {
		return nil, err
	}

	t.levels = append(t.levels, leaves)
	level := leaves
	for n := len(level); n > 1; {
		next := make([]Hash, (n+1)/2)
		for i := 0; i < n; i += 2 {
			if i+1 < n {
				next[i/2] = d.Pair(level[i], level[i+1])
			} else {
				next[i/2] = level[i]
			}
		}
		t.levels = append(t.levels, next)
		level = next
		n = len(level)
	}
	return t, nil
}

// minRunBytes keeps tiny blocks (the byte-granular fine phase) from being
// spread over goroutines one hash at a time.
const minRunBytes = 1 << 20

func (t *Tree) hashLeaves(ctx context.Context, src source.Source, cfg config) ([]Hash, error) {
	blocks := BlockCount(t.size, t.blockSize)
	leaves := make([]Hash, blocks)
	if t.size == 0 {
		leaves[0] = t.digest.Sum(nil)
		return leaves, nil
	}

	run := (blocks + cfg.workers - 1) / cfg.workers
	run = max(run, int(minRunBytes/t.blockSize), 1)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for first := 0; first < blocks; first += run {
		last := min(first+run, blocks)
		g.Go(func() error {
			buf := make([]byte, min(t.blockSize, t.size))
			for i := first; i < last; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				off, n := t.BlockRange(i)
				if err := source.ReadBlock(src, off, buf[:n]); err != nil {
					return fmt.Errorf("block %d: %w", i, err)
				}
				leaves[i] = t.digest.Sum(buf[:n])
				if cfg.progress != nil {
					cfg.progress(n)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

// Height is the number of levels, leaves included.
func (t *Tree) Height() int { return len(t.levels) }

// Top is the level of the root.
func (t *Tree) Top() int { return len(t.levels) - 1 }

func (t *Tree) Root() Hash { return t.levels[t.Top()][0] }

// RootNode is the initial frontier of a comparison.
func (t *Tree) RootNode() Node { return Node{Level: t.Top(), Index: 0} }

// Width is the number of nodes at level, 0 when the level does not exist.
func (t *Tree) Width(level int) int {
	if level < 0 || level >= len(t.levels) {
		return 0
	}
	return len(t.levels[level])
}

func (t *Tree) Blocks() int            { return len(t.levels[0]) }
func (t *Tree) BlockSize() int64       { return t.blockSize }
func (t *Tree) Size() int64            { return t.size }
func (t *Tree) Digest() digest.Digest  { return t.digest }
func (t *Tree) IsLeaf(level int) bool  { return level == 0 }
func (t *Tree) Contains(n Node) bool   { return n.Index >= 0 && n.Index < t.Width(n.Level) }
func (t *Tree) Hash(n Node) Hash       { return t.levels[n.Level][n.Index] }
func (t *Tree) Level(level int) []Hash { return t.levels[level] }

// BlockRange returns the byte range [off, off+n) covered by leaf i.
func (t *Tree) BlockRange(i int) (off, n int64) {
	off = int64(i) * t.blockSize
	n = min(t.blockSize, t.size-off)
	return off, max(n, 0)
}

// Nodes counts every node of every level.
func (t *Tree) Nodes() int {
	total := 0
	for _, l := range t.levels {
		total += len(l)
	}
	return total
}

// HashesAt returns the hashes of the given indices at level, in the order
// given.
func (t *Tree) HashesAt(level int, indices []int) ([]Hash, error) {
	if level < 0 || level >= len(t.levels) {
		return nil, fmt.Errorf("level %d out of range [0,%d)", level, len(t.levels))
	}
	row := t.levels[level]
	out := make([]Hash, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(row) {
			return nil, fmt.Errorf("index %d out of range at level %d (width %d)", idx, level, len(row))
		}
		out[i] = row[idx]
	}
	return out, nil
}

// ChildrenOf returns (level-1, 2i) and, when it exists, (level-1, 2i+1).
// Leaves have no children.
func (t *Tree) ChildrenOf(n Node) []Node {
	if n.Level <= 0 || n.Level >= len(t.levels) {
		return nil
	}
	below := n.Level - 1
	left := Node{Level: below, Index: 2 * n.Index}
	if left.Index >= t.Width(below) {
		return nil
	}
	right := Node{Level: below, Index: left.Index + 1}
	if right.Index >= t.Width(below) {
		return []Node{left}
	}
	return []Node{left, right}
}

func (t *Tree) Stats() Stats {
	return Stats{
		Size:      t.size,
		BlockSize: t.blockSize,
		Blocks:    t.Blocks(),
		Height:    t.Height(),
		Nodes:     t.Nodes(),
		Digest:    t.digest.Name(),
	}
}
