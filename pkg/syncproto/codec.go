package syncproto

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/merkle"
	"github.com/juanpablocruz/merklediff/pkg/wire"
)

// Version is bumped on any incompatible change of the messages below.
const Version uint16 = 1

// CoarsePhase tags the rounds of the whole-file session. Fine sessions are
// tagged with the index of the block they refine.
const CoarsePhase = ^uint64(0)

// MaxBatch bounds the entries of one Digests message so a frame stays
// under transport.MaxFrameSize.
const MaxBatch = 16384

const entrySize = 2 + 8 + digest.Size

type Hello struct {
	Version    uint16
	SessionID  uuid.UUID
	Digest     string
	DigestSize uint16
	CoarseOnly bool
	FileSize   uint64
}

// Entry is one tagged node digest.
type Entry struct {
	Node merkle.Node
	Hash merkle.Hash
}

type Digests struct {
	Phase   uint64
	Total   uint32
	Entries []Entry
}

type Abort struct {
	Reason string
}

func EncodeHello(h Hello) []byte {
	var buf bytes.Buffer
	wire.PutU16(&buf, h.Version)
	buf.Write(h.SessionID[:])
	wire.PutString(&buf, h.Digest)
	wire.PutU16(&buf, h.DigestSize)
	var co uint8
	if h.CoarseOnly {
		co = 1
	}
	wire.PutU8(&buf, co)
	wire.PutU64(&buf, h.FileSize)
	return wire.Encode(wire.MT_HELLO, buf.Bytes())
}

func DecodeHello(payload []byte) (Hello, error) {
	var h Hello
	r := bytes.NewReader(payload)
	var err error
	if h.Version, err = wire.GetU16(r); err != nil {
		return h, fmt.Errorf("hello version: %w", err)
	}
	if err = wire.GetFixed(r, h.SessionID[:]); err != nil {
		return h, fmt.Errorf("hello session: %w", err)
	}
	if h.Digest, err = wire.GetString(r); err != nil {
		return h, fmt.Errorf("hello digest: %w", err)
	}
	if h.DigestSize, err = wire.GetU16(r); err != nil {
		return h, fmt.Errorf("hello digest size: %w", err)
	}
	co, err := wire.GetU8(r)
	if err != nil {
		return h, fmt.Errorf("hello coarse-only: %w", err)
	}
	h.CoarseOnly = co != 0
	if h.FileSize, err = wire.GetU64(r); err != nil {
		return h, fmt.Errorf("hello file size: %w", err)
	}
	if r.Len() != 0 {
		return h, fmt.Errorf("hello: %d trailing bytes", r.Len())
	}
	return h, nil
}

func EncodeDigests(d Digests) []byte {
	var buf bytes.Buffer
	buf.Grow(8 + 4 + 4 + len(d.Entries)*entrySize)
	wire.PutU64(&buf, d.Phase)
	wire.PutU32(&buf, d.Total)
	wire.PutU32(&buf, uint32(len(d.Entries)))
	for _, e := range d.Entries {
		wire.PutU16(&buf, uint16(e.Node.Level))
		wire.PutU64(&buf, uint64(e.Node.Index))
		buf.Write(e.Hash[:])
	}
	return wire.Encode(wire.MT_DIGESTS, buf.Bytes())
}

func DecodeDigests(payload []byte) (Digests, error) {
	var d Digests
	r := bytes.NewReader(payload)
	var err error
	if d.Phase, err = wire.GetU64(r); err != nil {
		return d, fmt.Errorf("digests phase: %w", err)
	}
	if d.Total, err = wire.GetU32(r); err != nil {
		return d, fmt.Errorf("digests total: %w", err)
	}
	count, err := wire.GetU32(r)
	if err != nil {
		return d, fmt.Errorf("digests count: %w", err)
	}
	if count > MaxBatch || int(count)*entrySize != r.Len() {
		return d, fmt.Errorf("digests: count %d does not match %d payload bytes", count, r.Len())
	}
	d.Entries = make([]Entry, count)
	for i := range d.Entries {
		level, _ := wire.GetU16(r)
		index, _ := wire.GetU64(r)
		e := &d.Entries[i]
		e.Node = merkle.Node{Level: int(level), Index: int(index)}
		_ = wire.GetFixed(r, e.Hash[:])
	}
	return d, nil
}

func EncodeAbort(a Abort) []byte {
	var buf bytes.Buffer
	reason := a.Reason
	if len(reason) > 1<<15 {
		reason = reason[:1<<15]
	}
	wire.PutString(&buf, reason)
	return wire.Encode(wire.MT_ABORT, buf.Bytes())
}

func DecodeAbort(payload []byte) (Abort, error) {
	s, err := wire.GetString(bytes.NewReader(payload))
	if err != nil {
		return Abort{}, fmt.Errorf("abort reason: %w", err)
	}
	return Abort{Reason: s}, nil
}

// PeerAbort is the error carried when the peer gave up first.
type PeerAbort struct {
	Reason string
}

func (e *PeerAbort) Error() string { return "peer aborted: " + e.Reason }

func (e *PeerAbort) Is(target error) bool { return target == ErrProtocol }

// expect decodes a frame that must be of type mt. An Abort from the peer is
// turned into a *PeerAbort.
func expect(frame []byte, mt byte) ([]byte, error) {
	got, payload, err := wire.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if got == wire.MT_ABORT {
		a, err := DecodeAbort(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		return nil, &PeerAbort{Reason: a.Reason}
	}
	if got != mt {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrProtocol, wire.Name(mt), wire.Name(got))
	}
	return payload, nil
}
