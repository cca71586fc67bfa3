package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-msgio"
)

// MaxFrameSize bounds a single frame: 1 MiB of payload plus header slack.
const MaxFrameSize = 1<<20 + 4096

// lengthPrefix is the size of the msgio frame header.
const lengthPrefix = 4

var ErrClosed = errors.New("stream closed")

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Stream frames messages over a byte stream with a big-endian u32 length
// prefix. Send and Recv may run concurrently with each other, but not with
// themselves.
type Stream struct {
	rwc io.ReadWriteCloser
	r   msgio.ReadCloser
	w   msgio.WriteCloser
	dl  deadliner

	rmu sync.Mutex
	wmu sync.Mutex

	bytesOut atomic.Int64
	bytesIn  atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

func NewStream(rwc io.ReadWriteCloser) *Stream {
	s := &Stream{
		rwc: rwc,
		r:   msgio.NewReaderSize(rwc, MaxFrameSize),
		w:   msgio.NewWriter(rwc),
	}
	s.dl, _ = rwc.(deadliner)
	return s
}

func (s *Stream) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(frame), MaxFrameSize)
	}
	if s.closed.Load() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var set func(time.Time) error
	if s.dl != nil {
		set = s.dl.SetWriteDeadline
	}
	stop := s.watch(ctx, set)
	err := s.w.WriteMsg(frame)
	stop()
	if err != nil {
		return s.fail(ctx, err)
	}
	s.bytesOut.Add(int64(len(frame) + lengthPrefix))
	return nil
}

func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()

	var set func(time.Time) error
	if s.dl != nil {
		set = s.dl.SetReadDeadline
	}
	stop := s.watch(ctx, set)
	msg, err := s.r.ReadMsg()
	stop()
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := bytes.Clone(msg)
	s.r.ReleaseMsg(msg)
	if out == nil {
		out = []byte{}
	}
	s.bytesIn.Add(int64(len(out) + lengthPrefix))
	return out, nil
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.rwc.Close()
	})
	return err
}

// BytesOut and BytesIn count framed bytes, length prefixes included.
func (s *Stream) BytesOut() int64 { return s.bytesOut.Load() }
func (s *Stream) BytesIn() int64  { return s.bytesIn.Load() }

// watch makes a blocking read or write give up once ctx is done. Without
// deadline support the only way out is closing the stream.
func (s *Stream) watch(ctx context.Context, set func(time.Time) error) (stop func()) {
	if set != nil {
		cancel := context.AfterFunc(ctx, func() { _ = set(time.Unix(1, 0)) })
		return func() {
			cancel()
			_ = set(time.Time{})
		}
	}
	cancel := context.AfterFunc(ctx, func() { _ = s.Close() })
	return func() { cancel() }
}

// fail prefers the context error when the operation was interrupted by it.
func (s *Stream) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
