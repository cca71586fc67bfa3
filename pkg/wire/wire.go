package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MT_HELLO   byte = 0x01
	MT_DIGESTS byte = 0x02
	MT_ABORT   byte = 0x03
)

// HeaderSize is the type byte plus the payload length.
const HeaderSize = 5

var ErrShortFrame = errors.New("short frame")

// Encode frame: | 1B type | 4B big-endian length | payload... |
func Encode(mt byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(payload))
	buf.WriteByte(mt)
	var L [4]byte
	binary.BigEndian.PutUint32(L[:], uint32(len(payload)))
	buf.Write(L[:])
	buf.Write(payload)
	return buf.Bytes()
}

// Decode validates and returns (type, payload).
func Decode(frame []byte) (byte, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, nil, ErrShortFrame
	}
	mt := frame[0]
	L := binary.BigEndian.Uint32(frame[1:5])
	if uint64(HeaderSize)+uint64(L) != uint64(len(frame)) {
		return 0, nil, fmt.Errorf("length mismatch: header says %d, frame carries %d", L, len(frame)-HeaderSize)
	}
	return mt, frame[5:], nil
}

// Name is used in logs and errors.
func Name(mt byte) string {
	switch mt {
	case MT_HELLO:
		return "hello"
	case MT_DIGESTS:
		return "digests"
	case MT_ABORT:
		return "abort"
	default:
		return fmt.Sprintf("unknown(0x%02x)", mt)
	}
}

func PutU8(b *bytes.Buffer, v uint8) { b.WriteByte(v) }

func PutU16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func PutU32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func PutU64(b *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

// PutString writes a u16 length followed by the bytes of s.
func PutString(b *bytes.Buffer, s string) {
	PutU16(b, uint16(len(s)))
	b.WriteString(s)
}

func GetU8(r *bytes.Reader) (uint8, error) {
	v, err := r.ReadByte()
	if err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return v, nil
}

func GetU16(r *bytes.Reader) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.BigEndian.Uint16(tmp[:]), nil
}

func GetU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func GetU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func GetString(r *bytes.Reader) (string, error) {
	n, err := GetU16(r)
	if err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", io.ErrUnexpectedEOF
	}
	return string(buf), nil
}

// GetFixed fills dst completely or fails.
func GetFixed(r *bytes.Reader, dst []byte) error {
	if _, err := io.ReadFull(r, dst); err != nil {
		return io.ErrUnexpectedEOF
	}
	return nil
}
