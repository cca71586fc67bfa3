package syncproto

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/merkle"
	"github.com/juanpablocruz/merklediff/pkg/metrics"
	"github.com/juanpablocruz/merklediff/pkg/source"
	"github.com/juanpablocruz/merklediff/pkg/transport"
)

// Config is shared by both phases of a comparison. Only BlockSize is
// required.
type Config struct {
	BlockSize  int64
	Digest     digest.Digest
	CoarseOnly bool
	Logger     *zap.Logger
	Workers    int

	// Progress receives bytes hashed while building the coarse tree.
	Progress func(n int64)
	Observer metrics.Observer
}

// Mismatch is one differing byte: its absolute offset and the local value.
type Mismatch struct {
	Offset int64
	Value  byte
}

type Result struct {
	// Blocks are the coarse leaves that differ, ascending.
	Blocks []int

	// Mismatches is empty when CoarseOnly is set.
	Mismatches []Mismatch
	BlockSize  int64
}

// Identical reports whether the comparison found nothing.
func (r Result) Identical() bool { return len(r.Blocks) == 0 }

// Refine compares src with the peer's copy: a coarse session over the whole
// source, then a byte-granular session over every block found different,
// in ascending block order. The peer must run Refine with the same block
// size and digest. Any failure aborts the whole comparison.
func Refine(ctx context.Context, conn transport.Conn, src source.Source, cfg Config) (Result, error) {
	if cfg.BlockSize <= 0 {
		return Result{}, merkle.ErrBlockSize
	}
	if cfg.Digest == nil {
		cfg.Digest = digest.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	res := Result{BlockSize: cfg.BlockSize}

	coarse := NewSession(conn, src, cfg.BlockSize, cfg.Digest,
		WithPhase(CoarsePhase),
		WithLogger(cfg.Logger),
		WithObserver(cfg.Observer),
		WithBuildOptions(merkle.WithWorkers(cfg.Workers), merkle.WithProgress(cfg.Progress)),
	)
	blocks, err := coarse.Run(ctx)
	if err != nil {
		return Result{}, err
	}
	res.Blocks = slices.Clone(blocks)
	slices.Sort(res.Blocks)
	cfg.Logger.Info("coarse phase done",
		zap.Int("blocks", coarse.Tree().Blocks()),
		zap.Int("mismatched", len(res.Blocks)))
	if len(res.Blocks) == 0 || cfg.CoarseOnly {
		return res, nil
	}

	tree := coarse.Tree()
	for _, b := range res.Blocks {
		found, err := refineBlock(ctx, conn, src, tree, b, cfg)
		if err != nil {
			return Result{}, err
		}
		res.Mismatches = append(res.Mismatches, found...)
	}
	slices.SortFunc(res.Mismatches, func(a, b Mismatch) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	cfg.Logger.Info("fine phase done",
		zap.Int("blocks", len(res.Blocks)),
		zap.Int("bytes", len(res.Mismatches)))
	return res, nil
}

func refineBlock(ctx context.Context, conn transport.Conn, src source.Source, coarse *merkle.Tree, block int, cfg Config) ([]Mismatch, error) {
	off, n := coarse.BlockRange(block)
	view, err := source.Section(src, off, n)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrIO, block, err)
	}
	fine := NewSession(conn, view, 1, cfg.Digest,
		WithPhase(uint64(block)),
		WithLogger(cfg.Logger),
		WithObserver(cfg.Observer),
		WithBuildOptions(merkle.WithWorkers(cfg.Workers)),
	)
	leaves, err := fine.Run(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Mismatch, 0, len(leaves))
	var b [1]byte
	for _, i := range leaves {
		if int64(i) >= view.Size() {
			// An empty block still has one leaf, so its tree has the
			// shape of a one-byte block.
			return nil, fmt.Errorf("%w: block %d: peer differs at byte %d, local block has %d bytes", ErrProtocol, block, i, view.Size())
		}
		if err := source.ReadBlock(view, int64(i), b[:]); err != nil {
			return nil, fmt.Errorf("%w: block %d byte %d: %w", ErrIO, block, i, err)
		}
		out = append(out, Mismatch{Offset: off + int64(i), Value: b[0]})
	}
	cfg.Logger.Debug("block refined",
		zap.Int("block", block),
		zap.Int64("offset", off),
		zap.Int("bytes", len(out)))
	return out, nil
}
