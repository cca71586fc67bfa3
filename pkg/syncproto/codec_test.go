package syncproto

import (
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/merklediff/pkg/merkle"
	"github.com/juanpablocruz/merklediff/pkg/wire"
)

func TestHelloRoundTrip(t *testing.T) {
	in := Hello{
		Version:    Version,
		SessionID:  uuid.New(),
		Digest:     "blake3",
		DigestSize: 32,
		CoarseOnly: true,
		FileSize:   1 << 40,
	}
	payload, err := expect(EncodeHello(in), wire.MT_HELLO)
	require.NoError(t, err)
	out, err := DecodeHello(payload)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestHelloTruncated(t *testing.T) {
	_, payload, err := wire.Decode(EncodeHello(Hello{Version: Version, Digest: "sha256"}))
	require.NoError(t, err)
	for _, n := range []int{0, 1, 10, len(payload) - 1} {
		_, err := DecodeHello(payload[:n])
		require.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", n)
	}
	_, err = DecodeHello(append(payload, 0))
	require.Error(t, err)
}

func TestDigestsEncoding(t *testing.T) {
	in := Digests{Phase: CoarsePhase, Total: 5, Entries: []Entry{
		{Node: merkle.Node{Level: 3, Index: 0}, Hash: merkle.Hash{1}},
		{Node: merkle.Node{Level: 3, Index: 1 << 33}, Hash: merkle.Hash{0: 2, 31: 9}},
	}}
	frame := EncodeDigests(in)
	require.Len(t, frame, wire.HeaderSize+16+2*entrySize)

	payload, err := expect(frame, wire.MT_DIGESTS)
	require.NoError(t, err)
	out, err := DecodeDigests(payload)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDigestsCountMismatch(t *testing.T) {
	_, payload, err := wire.Decode(EncodeDigests(Digests{Total: 2, Entries: make([]Entry, 2)}))
	require.NoError(t, err)
	_, err = DecodeDigests(payload[:len(payload)-1])
	require.Error(t, err)
	_, err = DecodeDigests(payload[:10])
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestExpect(t *testing.T) {
	_, err := expect([]byte{wire.MT_DIGESTS, 0, 0}, wire.MT_DIGESTS)
	require.ErrorIs(t, err, ErrProtocol)

	_, err = expect(EncodeHello(Hello{}), wire.MT_DIGESTS)
	require.ErrorIs(t, err, ErrProtocol)
	require.Contains(t, err.Error(), "expected digests, got hello")

	_, err = expect(EncodeAbort(Abort{Reason: "bad tag"}), wire.MT_DIGESTS)
	require.ErrorIs(t, err, ErrProtocol)
	var pa *PeerAbort
	require.True(t, errors.As(err, &pa))
	require.Equal(t, "bad tag", pa.Reason)
}

func TestPhaseName(t *testing.T) {
	require.Equal(t, "coarse", PhaseName(CoarsePhase))
	require.Equal(t, "fine[block 12]", PhaseName(12))
}
