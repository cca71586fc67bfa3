package syncproto_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/juanpablocruz/merklediff/pkg/transport"
)

type peerFunc func(ctx context.Context, conn transport.Conn) error

// runPair runs a and b against the two ends of an in-memory pipe. A peer's
// end is closed as soon as it returns, as a real process would on exit.
func runPair(t *testing.T, a, b peerFunc) (errA, errB error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ca, cb := transport.Pipe()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer ca.Close()
		errA = a(ctx, ca)
	}()
	go func() {
		defer wg.Done()
		defer cb.Close()
		errB = b(ctx, cb)
	}()
	wg.Wait()
	if ctx.Err() != nil {
		t.Fatalf("peers did not finish: %v", ctx.Err())
	}
	return errA, errB
}

func alphabet() []byte { return []byte("abcdefghijklmnopqrstuvwxyz0123456789") }

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// pipeChaos is transport.Pipe with chaos injected under the first end.
func pipeChaos(cfg transport.ChaosConfig) (*transport.Stream, *transport.Stream) {
	a, b := net.Pipe()
	return transport.NewStream(transport.WrapChaos(a, cfg)), transport.NewStream(b)
}
