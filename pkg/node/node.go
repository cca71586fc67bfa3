// Package node runs one side of a file comparison: it connects to the peer,
// agrees on the parameters and drives the coarse and fine phases.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/metrics"
	"github.com/juanpablocruz/merklediff/pkg/source"
	"github.com/juanpablocruz/merklediff/pkg/syncproto"
	"github.com/juanpablocruz/merklediff/pkg/transport"
)

const DefaultBlockSize = 1 << 20

type Node struct {
	Name       string
	BlockSize  int64
	Digest     digest.Digest
	CoarseOnly bool
	Workers    int

	Events chan Event

	sessionID uuid.UUID
	progress  func(n int64)
	observer  metrics.Observer
	logger    *zap.Logger
}

func New(name string, opts ...NodeOption) *Node {
	n := &Node{
		Name:      name,
		BlockSize: DefaultBlockSize,
		Digest:    digest.Default(),
		sessionID: uuid.New(),
		observer:  metrics.Nop,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.logger = n.logger.With(zap.String("node", n.Name), zap.Stringer("session", n.sessionID))
	return n
}

func (n *Node) AttachEvents(ch chan Event) { n.Events = ch }

func (n *Node) SessionID() uuid.UUID { return n.sessionID }

// Serve waits for one peer on ln and compares src with its copy.
func (n *Node) Serve(ctx context.Context, ln *transport.TCPListener, src source.Source) (syncproto.Result, error) {
	n.logger.Info("listening", zap.String("addr", ln.Addr()))
	conn, err := ln.Accept(ctx)
	if err != nil {
		return syncproto.Result{}, n.failed(fmt.Errorf("%w: accept: %w", syncproto.ErrIO, err))
	}
	defer conn.Close()
	n.emit(EventConnected, map[string]any{"role": "server", "addr": ln.Addr()})
	return n.Compare(ctx, conn, src)
}

// Dial connects to addr, retrying until the dial timeout, and compares src
// with the peer's copy.
func (n *Node) Dial(ctx context.Context, addr string, src source.Source, opts ...transport.DialOption) (syncproto.Result, error) {
	n.logger.Info("connecting", zap.String("addr", addr))
	conn, err := transport.DialTCP(ctx, addr, opts...)
	if err != nil {
		return syncproto.Result{}, n.failed(fmt.Errorf("%w: dial %s: %w", syncproto.ErrIO, addr, err))
	}
	defer conn.Close()
	n.emit(EventConnected, map[string]any{"role": "client", "addr": addr})
	return n.Compare(ctx, conn, src)
}

// Compare runs the handshake and both phases over an established conn. A
// protocol failure found locally is reported to the peer before returning.
func (n *Node) Compare(ctx context.Context, conn transport.Conn, src source.Source) (syncproto.Result, error) {
	start := time.Now()
	local := syncproto.Hello{
		Version:    syncproto.Version,
		SessionID:  n.sessionID,
		Digest:     n.Digest.Name(),
		DigestSize: digest.Size,
		CoarseOnly: n.CoarseOnly,
		FileSize:   uint64(src.Size()),
	}
	remote, err := syncproto.Handshake(ctx, conn, local)
	if err != nil {
		return syncproto.Result{}, n.failed(err)
	}
	n.logger.Debug("hello",
		zap.Stringer("peer_session", remote.SessionID),
		zap.String("digest", remote.Digest),
		zap.Uint64("peer_size", remote.FileSize))
	n.emit(EventHello, map[string]any{"peer_session": remote.SessionID.String(), "peer_size": remote.FileSize})
	if remote.FileSize != local.FileSize {
		n.logger.Warn("file sizes differ",
			zap.Uint64("local", local.FileSize),
			zap.Uint64("peer", remote.FileSize))
		n.emit(EventWarn, map[string]any{"msg": "size_mismatch", "local": local.FileSize, "peer": remote.FileSize})
	}

	res, err := syncproto.Refine(ctx, conn, src, syncproto.Config{
		BlockSize:  n.BlockSize,
		Digest:     n.Digest,
		CoarseOnly: n.CoarseOnly,
		Logger:     n.logger,
		Workers:    n.Workers,
		Progress:   n.progress,
		Observer:   metrics.Multi{n.observer, phaseEvents{n}},
	})
	if err != nil {
		if errors.Is(err, syncproto.ErrProtocol) {
			syncproto.SendAbort(ctx, conn, err)
			n.emit(EventAbort, map[string]any{"err": err.Error()})
		}
		return syncproto.Result{}, n.failed(err)
	}

	n.logger.Info("comparison done",
		zap.Int("blocks", len(res.Blocks)),
		zap.Int("bytes", len(res.Mismatches)),
		zap.Duration("took", time.Since(start)))
	n.emit(EventDone, map[string]any{"blocks": len(res.Blocks), "bytes": len(res.Mismatches)})
	return res, nil
}

func (n *Node) failed(err error) error {
	n.logger.Error("comparison failed", zap.Error(err))
	n.emit(EventFailed, map[string]any{"err": err.Error()})
	return err
}

// phaseEvents turns finished sessions into events.
type phaseEvents struct{ n *Node }

func (p phaseEvents) ObserveSession(m metrics.SessionMetrics, err error) {
	f := map[string]any{"phase": m.Phase, "rounds": m.Rounds, "leaves": m.LeavesMismatch}
	if err != nil {
		f["err"] = err.Error()
	}
	p.n.emit(EventPhase, f)
}

func (n *Node) emit(t EventType, f map[string]any) {
	if n.Events == nil {
		return
	}
	select {
	case n.Events <- Event{Time: time.Now(), Node: n.Name, Type: t, Fields: f}:
	default: // drop if nobody keeps up
	}
}
