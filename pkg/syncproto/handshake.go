package syncproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/juanpablocruz/merklediff/pkg/transport"
	"github.com/juanpablocruz/merklediff/pkg/wire"
)

// abortTimeout bounds the best-effort Abort sent on the way out.
const abortTimeout = 250 * time.Millisecond

// Handshake exchanges Hello messages and checks that both peers will build
// comparable trees. The peer's Hello is returned even when it does not
// match, so the caller can log it.
func Handshake(ctx context.Context, conn transport.Conn, local Hello) (Hello, error) {
	var remote Hello
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := conn.Send(gctx, EncodeHello(local)); err != nil {
			return fmt.Errorf("%w: send hello: %w", ErrIO, err)
		}
		return nil
	})
	g.Go(func() error {
		frame, err := conn.Recv(gctx)
		if err != nil {
			return fmt.Errorf("%w: recv hello: %w", ErrIO, err)
		}
		payload, err := expect(frame, wire.MT_HELLO)
		if err != nil {
			return err
		}
		if remote, err = DecodeHello(payload); err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return remote, err
	}
	return remote, CheckHello(local, remote)
}

// CheckHello fails when the two peers would not build trees of the same
// shape and digest. Block size is not carried and file size may differ.
func CheckHello(local, remote Hello) error {
	switch {
	case local.Version != remote.Version:
		return fmt.Errorf("%w: protocol version %d, peer speaks %d", ErrProtocol, local.Version, remote.Version)
	case local.Digest != remote.Digest || local.DigestSize != remote.DigestSize:
		return fmt.Errorf("%w: digest %s/%d, peer uses %s/%d", ErrProtocol, local.Digest, local.DigestSize, remote.Digest, remote.DigestSize)
	case local.CoarseOnly != remote.CoarseOnly:
		return fmt.Errorf("%w: coarse-only %t, peer has %t", ErrProtocol, local.CoarseOnly, remote.CoarseOnly)
	}
	return nil
}

// SendAbort tells the peer why this side gives up. Errors are ignored: the
// link may already be gone. Nothing is sent for an abort the peer started.
func SendAbort(ctx context.Context, conn transport.Conn, cause error) {
	var pa *PeerAbort
	if cause == nil || errors.As(cause, &pa) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	_ = conn.Send(ctx, EncodeAbort(Abort{Reason: cause.Error()}))
}
