package transport

import "context"

// Conn is the minimal surface a comparison needs: an ordered, reliable
// exchange of whole frames with exactly one peer.
// Both the TCP stream and the in-memory pipe satisfy this.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}
