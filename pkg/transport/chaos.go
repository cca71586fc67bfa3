package transport

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInjected is returned by a ChaosConn once its configured budget is spent.
var ErrInjected = errors.New("injected link failure")

type ChaosConfig struct {
	// Cut the link after this many bytes were written / read. 0 = never.
	FailWriteAfter int64
	FailReadAfter  int64

	// Probability [0..1] that a written chunk gets one byte flipped.
	Corrupt float64

	// Latency added to every write.
	Delay time.Duration

	// Seed (optional). If 0, uses time.Now().UnixNano()
	Seed int64
}

// ChaosConn wraps a byte stream to inject failures below the framing layer.
// Deadlines are forwarded when the wrapped stream supports them.
type ChaosConn struct {
	under io.ReadWriteCloser
	cfg   ChaosConfig

	written atomic.Int64
	read    atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func WrapChaos(under io.ReadWriteCloser, cfg ChaosConfig) *ChaosConn {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &ChaosConn{
		under: under,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (c *ChaosConn) Write(p []byte) (int, error) {
	if c.cfg.Delay > 0 {
		time.Sleep(c.cfg.Delay)
	}
	if limit := c.cfg.FailWriteAfter; limit > 0 {
		left := limit - c.written.Load()
		if left <= 0 {
			return 0, ErrInjected
		}
		if int64(len(p)) > left {
			n, _ := c.under.Write(p[:left])
			c.written.Add(int64(n))
			return n, ErrInjected
		}
	}
	if c.roll() < c.cfg.Corrupt && len(p) > 0 {
		p = clone(p)
		c.rngMu.Lock()
		p[c.rng.Intn(len(p))] ^= 0xff
		c.rngMu.Unlock()
	}
	n, err := c.under.Write(p)
	c.written.Add(int64(n))
	return n, err
}

func (c *ChaosConn) Read(p []byte) (int, error) {
	if limit := c.cfg.FailReadAfter; limit > 0 {
		left := limit - c.read.Load()
		if left <= 0 {
			return 0, ErrInjected
		}
		if int64(len(p)) > left {
			p = p[:left]
		}
	}
	n, err := c.under.Read(p)
	c.read.Add(int64(n))
	return n, err
}

func (c *ChaosConn) Close() error { return c.under.Close() }

func (c *ChaosConn) SetReadDeadline(t time.Time) error {
	if d, ok := c.under.(deadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

func (c *ChaosConn) SetWriteDeadline(t time.Time) error {
	if d, ok := c.under.(deadliner); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

func (c *ChaosConn) roll() float64 {
	if c.cfg.Corrupt <= 0 {
		return 1
	}
	c.rngMu.Lock()
	x := c.rng.Float64()
	c.rngMu.Unlock()
	return x
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
