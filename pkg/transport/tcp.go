package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// TCPListener accepts the single peer of a comparison.
type TCPListener struct {
	ln net.Listener
}

func ListenTCP(ctx context.Context, addr string) (*TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (l *TCPListener) Addr() string { return l.ln.Addr().String() }

func (l *TCPListener) Close() error { return l.ln.Close() }

// Accept waits for one peer and stops listening; any later dialer is refused.
func (l *TCPListener) Accept(ctx context.Context) (*Stream, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()
	c, err := l.ln.Accept()
	_ = l.ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	tuneTCP(c)
	return NewStream(c), nil
}

// Listen binds addr and accepts exactly one peer.
func Listen(ctx context.Context, addr string) (*Stream, error) {
	l, err := ListenTCP(ctx, addr)
	if err != nil {
		return nil, err
	}
	return l.Accept(ctx)
}

type dialConfig struct {
	timeout     time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
}

type DialOption func(*dialConfig)

// WithDialTimeout bounds the whole connect phase, retries included.
func WithDialTimeout(d time.Duration) DialOption {
	return func(c *dialConfig) { c.timeout = d }
}

func WithBackoff(base, max time.Duration) DialOption {
	return func(c *dialConfig) { c.backoffBase = base; c.backoffMax = max }
}

// DialTCP connects to addr, retrying refused or unreachable peers with
// exponential backoff so the two sides can be started in any order.
func DialTCP(ctx context.Context, addr string, opts ...DialOption) (*Stream, error) {
	cfg := dialConfig{
		timeout:     10 * time.Second,
		backoffBase: 50 * time.Millisecond,
		backoffMax:  time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var d net.Dialer
	delay := cfg.backoffBase
	for attempt := 1; ; attempt++ {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			tuneTCP(c)
			return NewStream(c), nil
		}
		if !retryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: gave up after %d attempts: %w", addr, attempt, err)
		case <-time.After(jitter(delay)):
		}
		delay = minDur(2*delay, cfg.backoffMax)
	}
}

func retryable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

func tuneTCP(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

// jitter spreads d by +/-20%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	span := int64(d) * 4 / 10
	if span <= 0 {
		return d
	}
	return d - time.Duration(span/2) + time.Duration(rand.Int63n(span+1))
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
