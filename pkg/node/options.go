package node

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/metrics"
)

// NodeOption configures a Node in New.
type NodeOption func(*Node)

func WithBlockSize(n int64) NodeOption {
	return func(nd *Node) { nd.BlockSize = n }
}
func WithDigest(d digest.Digest) NodeOption {
	return func(n *Node) { n.Digest = d }
}
func WithCoarseOnly(on bool) NodeOption {
	return func(n *Node) { n.CoarseOnly = on }
}

// WithWorkers bounds the goroutines hashing leaves. 0 means one per CPU.
func WithWorkers(w int) NodeOption {
	return func(n *Node) { n.Workers = w }
}

// WithProgress receives the bytes hashed while the coarse tree is built.
func WithProgress(fn func(n int64)) NodeOption {
	return func(n *Node) { n.progress = fn }
}
func WithObserver(o metrics.Observer) NodeOption {
	return func(n *Node) { n.observer = o }
}
func WithLogger(l *zap.Logger) NodeOption {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}
func WithEvents(ch chan Event) NodeOption {
	return func(n *Node) { n.Events = ch }
}
func WithSessionID(id uuid.UUID) NodeOption {
	return func(n *Node) { n.sessionID = id }
}
