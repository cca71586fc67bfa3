package syncproto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/merkle"
	"github.com/juanpablocruz/merklediff/pkg/metrics"
	"github.com/juanpablocruz/merklediff/pkg/source"
	"github.com/juanpablocruz/merklediff/pkg/transport"
)

type State int

const (
	Building State = iota
	RootExchange
	Narrowing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case RootExchange:
		return "root_exchange"
	case Narrowing:
		return "narrowing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errRerun = errors.New("session already ran")

// Session runs one phase of a comparison: it builds the local tree, then
// exchanges digests with the peer level by level, descending only into
// nodes whose digests differ. Both peers derive the next frontier from the
// same mismatch outcome, so nothing but digests goes on the wire.
type Session struct {
	conn      transport.Conn
	src       source.Source
	blockSize int64
	digest    digest.Digest
	phase     uint64
	logger    *zap.Logger
	observer  metrics.Observer
	buildOpts []merkle.Option

	mtx   sync.Mutex
	tree  *merkle.Tree
	state State
	err   error
	ran   bool
	stats metrics.SessionMetrics
}

type SessionOption func(*Session)

// WithPhase sets the tag carried by every digest message. Defaults to
// CoarsePhase.
func WithPhase(tag uint64) SessionOption { return func(s *Session) { s.phase = tag } }

func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTree skips Building and compares a tree built elsewhere.
func WithTree(t *merkle.Tree) SessionOption { return func(s *Session) { s.tree = t } }

func WithBuildOptions(opts ...merkle.Option) SessionOption {
	return func(s *Session) { s.buildOpts = append(s.buildOpts, opts...) }
}

// WithObserver receives the session metrics once Run returns.
func WithObserver(o metrics.Observer) SessionOption {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewSession(conn transport.Conn, src source.Source, blockSize int64, d digest.Digest, opts ...SessionOption) *Session {
	if d == nil {
		d = digest.Default()
	}
	s := &Session{
		conn:      conn,
		src:       src,
		blockSize: blockSize,
		digest:    d,
		phase:     CoarsePhase,
		logger:    zap.NewNop(),
		observer:  metrics.Nop,
		state:     Building,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

// Err is the error that moved the session to Failed.
func (s *Session) Err() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.err
}

func (s *Session) Stats() metrics.SessionMetrics {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.stats
}

// Tree is nil until Building is over.
func (s *Session) Tree() *merkle.Tree {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.tree
}

func (s *Session) setState(st State) {
	s.mtx.Lock()
	s.state = st
	s.mtx.Unlock()
	s.logger.Debug("session state", zap.String("phase", PhaseName(s.phase)), zap.Stringer("state", st))
}

// Run drives the session to Done or Failed and returns the sorted indices
// of the leaves that differ. A failed session returns no leaves.
func (s *Session) Run(ctx context.Context) ([]int, error) {
	s.mtx.Lock()
	if s.ran {
		s.mtx.Unlock()
		return nil, errRerun
	}
	s.ran = true
	s.stats = metrics.SessionMetrics{Phase: metrics.PhaseFine, BlockSize: s.blockSize}
	if s.phase == CoarsePhase {
		s.stats.Phase = metrics.PhaseCoarse
	}
	s.mtx.Unlock()

	start := time.Now()
	out0, in0 := wireBytes(s.conn)
	leaves, err := s.run(ctx, start)

	s.mtx.Lock()
	out1, in1 := wireBytes(s.conn)
	s.stats.BytesOut = out1 - out0
	s.stats.BytesIn = in1 - in0
	s.stats.LeavesMismatch = len(leaves)
	s.stats.DurationMS = msSince(start)
	if err != nil {
		s.state = Failed
		s.err = err
	} else {
		s.state = Done
	}
	stats := s.stats
	s.mtx.Unlock()

	s.observer.ObserveSession(stats, err)
	if err != nil {
		s.logger.Debug("session failed", zap.String("phase", PhaseName(s.phase)), zap.Error(err))
		return nil, err
	}
	s.logger.Debug("session done",
		zap.String("phase", PhaseName(s.phase)),
		zap.Int("rounds", stats.Rounds),
		zap.Int("leaves", len(leaves)))
	return leaves, nil
}

func (s *Session) run(ctx context.Context, start time.Time) ([]int, error) {
	tree := s.Tree()
	if tree == nil {
		var err error
		tree, err = merkle.Build(ctx, s.src, s.blockSize, s.digest, s.buildOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: build %s tree: %w", ErrIO, PhaseName(s.phase), err)
		}
	}
	s.mtx.Lock()
	s.tree = tree
	s.stats.Blocks = tree.Blocks()
	s.stats.Height = tree.Height()
	s.stats.BuildMS = msSince(start)
	s.mtx.Unlock()

	s.setState(RootExchange)
	frontier := []merkle.Node{tree.RootNode()}
	_, mismatched, err := s.round(ctx, tree, frontier)
	if err != nil {
		return nil, err
	}
	if len(mismatched) == 0 {
		return nil, nil
	}

	s.setState(Narrowing)
	var leaves []int
	for {
		frontier = frontier[:0:0]
		for _, n := range mismatched {
			if tree.IsLeaf(n.Level) {
				leaves = append(leaves, n.Index)
				continue
			}
			frontier = append(frontier, tree.ChildrenOf(n)...)
		}
		if len(frontier) == 0 {
			return leaves, nil
		}
		if _, mismatched, err = s.round(ctx, tree, frontier); err != nil {
			return nil, err
		}
	}
}

func (s *Session) round(ctx context.Context, tree *merkle.Tree, frontier []merkle.Node) (matched, mismatched []merkle.Node, err error) {
	matched, mismatched, err = CompareRound(ctx, s.conn, tree, s.phase, frontier)
	if err != nil {
		return nil, nil, err
	}
	s.mtx.Lock()
	s.stats.Rounds++
	s.stats.DigestsSent += len(frontier)
	s.stats.DigestsReceived += len(frontier)
	s.stats.Mismatched += len(mismatched)
	s.mtx.Unlock()
	s.logger.Debug("round",
		zap.String("phase", PhaseName(s.phase)),
		zap.Int("level", frontier[0].Level),
		zap.Int("frontier", len(frontier)),
		zap.Int("mismatched", len(mismatched)))
	return matched, mismatched, nil
}

type byteCounter interface {
	BytesOut() int64
	BytesIn() int64
}

func wireBytes(c transport.Conn) (out, in int64) {
	if bc, ok := c.(byteCounter); ok {
		return bc.BytesOut(), bc.BytesIn()
	}
	return 0, 0
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
