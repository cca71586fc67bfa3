package syncproto

import (
	"context"
	"errors"
	"fmt"

	"github.com/juanpablocruz/merklediff/pkg/merkle"
	"github.com/juanpablocruz/merklediff/pkg/transport"
	"github.com/juanpablocruz/merklediff/pkg/wire"
)

// CompareRound sends the local digest of every frontier node, reads the
// peer's digests for the same frontier and splits it by equality.
//
// Both peers must call it with the same phase and frontier. The peer's list
// is checked entry by entry against the expected (level, index) tags; any
// difference in count, tag or phase is an ErrProtocol. Sending and receiving
// overlap so neither side blocks on a full pipe.
func CompareRound(ctx context.Context, conn transport.Conn, tree *merkle.Tree, phase uint64, frontier []merkle.Node) (matched, mismatched []merkle.Node, err error) {
	local := make([]merkle.Hash, len(frontier))
	for i, n := range frontier {
		if !tree.Contains(n) {
			return nil, nil, fmt.Errorf("%w: frontier node %s not in local tree (height %d)", ErrProtocol, n, tree.Height())
		}
		local[i] = tree.Hash(n)
	}

	remote := make([]merkle.Hash, len(frontier))
	rctx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()

	// The send runs on ctx: a frame already on the wire is always finished,
	// so the peer reads the same complete round this side read.
	stop := make(chan struct{})
	sent := make(chan error, 1)
	go func() {
		err := sendRound(ctx, conn, phase, frontier, local, stop)
		if err != nil {
			cancelRecv()
		}
		sent <- err
	}()

	rerr := recvRound(rctx, conn, phase, frontier, remote)
	var serr error
	if rerr == nil {
		serr = <-sent
	} else {
		close(stop)
		serr = drainUntil(rctx, conn, sent)
	}
	switch {
	case errors.Is(rerr, ErrProtocol):
		return nil, nil, rerr
	case serr != nil:
		return nil, nil, serr
	case rerr != nil:
		return nil, nil, rerr
	}

	for i, n := range frontier {
		if local[i] == remote[i] {
			matched = append(matched, n)
		} else {
			mismatched = append(mismatched, n)
		}
	}
	return matched, mismatched, nil
}

// sendRound writes the frontier in MaxBatch frames. Closing stop ends it
// between frames, never inside one.
func sendRound(ctx context.Context, conn transport.Conn, phase uint64, frontier []merkle.Node, hashes []merkle.Hash, stop <-chan struct{}) error {
	total := uint32(len(frontier))
	first := 0
	for {
		last := min(first+MaxBatch, len(frontier))
		msg := Digests{Phase: phase, Total: total, Entries: make([]Entry, last-first)}
		for i := first; i < last; i++ {
			msg.Entries[i-first] = Entry{Node: frontier[i], Hash: hashes[i]}
		}
		select {
		case <-stop:
			return nil
		default:
		}
		if err := conn.Send(ctx, EncodeDigests(msg)); err != nil {
			return fmt.Errorf("%w: send digests: %w", ErrIO, err)
		}
		first = last
		if first >= len(frontier) {
			return nil
		}
	}
}

func recvRound(ctx context.Context, conn transport.Conn, phase uint64, frontier []merkle.Node, out []merkle.Hash) error {
	pos := 0
	for {
		frame, err := conn.Recv(ctx)
		if err != nil {
			return fmt.Errorf("%w: recv digests: %w", ErrIO, err)
		}
		payload, err := expect(frame, wire.MT_DIGESTS)
		if err != nil {
			return err
		}
		msg, err := DecodeDigests(payload)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		if msg.Phase != phase {
			return fmt.Errorf("%w: phase %s, peer is in %s", ErrProtocol, PhaseName(phase), PhaseName(msg.Phase))
		}
		if int(msg.Total) != len(frontier) {
			return fmt.Errorf("%w: frontier of %d nodes, peer sent %d", ErrProtocol, len(frontier), msg.Total)
		}
		if pos+len(msg.Entries) > len(frontier) {
			return fmt.Errorf("%w: peer sent %d entries past the frontier", ErrProtocol, pos+len(msg.Entries)-len(frontier))
		}
		if len(msg.Entries) == 0 && len(frontier) > 0 {
			return fmt.Errorf("%w: empty digest batch at position %d", ErrProtocol, pos)
		}
		for _, e := range msg.Entries {
			if want := frontier[pos]; e.Node != want {
				return fmt.Errorf("%w: position %d: expected node %s, peer sent %s", ErrProtocol, pos, want, e.Node)
			}
			out[pos] = e.Hash
			pos++
		}
		if pos == len(frontier) {
			return nil
		}
	}
}

// drainUntil keeps reading and discarding frames until the local send is
// over. Both peers may still be writing a frame of a round they already
// rejected; reading lets both writes complete.
func drainUntil(ctx context.Context, conn transport.Conn, sent <-chan error) error {
	dctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for dctx.Err() == nil {
			if _, err := conn.Recv(dctx); err != nil {
				return
			}
		}
	}()
	err := <-sent
	cancel()
	<-done
	return err
}

// PhaseName renders a phase tag for logs and errors.
func PhaseName(phase uint64) string {
	if phase == CoarsePhase {
		return "coarse"
	}
	return fmt.Sprintf("fine[block %d]", phase)
}
