package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	payload := []byte("hello")
	f := Encode(MT_DIGESTS, payload)
	mt, p, err := Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mt != MT_DIGESTS || !bytes.Equal(p, payload) {
		t.Fatalf("roundtrip mismatch: mt=%d p=%q", mt, p)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	if _, _, err := Decode([]byte{MT_HELLO, 0, 0}); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	f := Encode(MT_ABORT, []byte("xyz"))
	if _, _, err := Decode(f[:len(f)-1]); err == nil {
		t.Fatalf("expected length mismatch on truncated frame")
	}
	if _, _, err := Decode(append(f, 0)); err == nil {
		t.Fatalf("expected length mismatch on padded frame")
	}
}

func TestScalarHelpers(t *testing.T) {
	var b bytes.Buffer
	PutU8(&b, 7)
	PutU16(&b, 0xBEEF)
	PutU32(&b, 0xDEADBEEF)
	PutU64(&b, 1<<40)
	PutString(&b, "sha256")

	r := bytes.NewReader(b.Bytes())
	if v, _ := GetU8(r); v != 7 {
		t.Fatalf("u8 = %d", v)
	}
	if v, _ := GetU16(r); v != 0xBEEF {
		t.Fatalf("u16 = %x", v)
	}
	if v, _ := GetU32(r); v != 0xDEADBEEF {
		t.Fatalf("u32 = %x", v)
	}
	if v, _ := GetU64(r); v != 1<<40 {
		t.Fatalf("u64 = %d", v)
	}
	if s, _ := GetString(r); s != "sha256" {
		t.Fatalf("string = %q", s)
	}
	if _, err := GetU32(r); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF on exhausted reader, got %v", err)
	}
}

func TestGetStringTruncated(t *testing.T) {
	var b bytes.Buffer
	PutU16(&b, 10)
	b.WriteString("abc")
	if _, err := GetString(bytes.NewReader(b.Bytes())); err == nil {
		t.Fatalf("expected error for truncated string")
	}
}

func TestName(t *testing.T) {
	if Name(MT_HELLO) != "hello" || Name(0x7f) != "unknown(0x7f)" {
		t.Fatalf("unexpected names: %s %s", Name(MT_HELLO), Name(0x7f))
	}
}
