package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"dhtnode/internal/domain"
)

func testKey(t *testing.T, b byte) domain.ID {
	t.Helper()
	k := make(domain.ID, KeyLen)
	k[KeyLen-1] = b
	return k
}

func TestEncodeDecodePutRoundTrip(t *testing.T) {
	key := testKey(t, 7)
	frame, err := EncodePut(PutRequest{Key: key, TTL: 60 * time.Second, Replication: 3, Value: []byte("hello")})
	if err != nil {
		t.Fatalf("EncodePut: %v", err)
	}

	typ, payload, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != TypePut {
		t.Fatalf("type = %d, want %d", typ, TypePut)
	}

	got, err := DecodePut(payload)
	if err != nil {
		t.Fatalf("DecodePut: %v", err)
	}
	if !got.Key.Equal(key) {
		t.Errorf("key mismatch: got %x want %x", []byte(got.Key), []byte(key))
	}
	if got.TTL != 60*time.Second {
		t.Errorf("TTL = %v, want 60s", got.TTL)
	}
	if got.Replication != 3 {
		t.Errorf("Replication = %d, want 3", got.Replication)
	}
	if string(got.Value) != "hello" {
		t.Errorf("Value = %q, want %q", got.Value, "hello")
	}
}

func TestEncodeGetReplyRoundTrip(t *testing.T) {
	key := testKey(t, 1)
	frame, err := EncodeGetReply(key, []byte("value-bytes"))
	if err != nil {
		t.Fatalf("EncodeGetReply: %v", err)
	}

	typ, payload, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != TypeGetReply {
		t.Fatalf("type = %d, want %d", typ, TypeGetReply)
	}
	gotKey, gotValue, err := DecodeGetReply(payload)
	if err != nil {
		t.Fatalf("DecodeGetReply: %v", err)
	}
	if !gotKey.Equal(key) {
		t.Errorf("key mismatch")
	}
	if string(gotValue) != "value-bytes" {
		t.Errorf("value = %q, want %q", gotValue, "value-bytes")
	}
}

func TestEncodeDecodeTraceReplyRoundTrip(t *testing.T) {
	key := testKey(t, 2)
	hops := []Hop{
		HopFromAddr(testKey(t, 9), "10.0.0.1:9000"),
		HopFromAddr(testKey(t, 10), "[::1]:9001"),
	}

	frame, err := EncodeTraceReply(key, hops)
	if err != nil {
		t.Fatalf("EncodeTraceReply: %v", err)
	}

	typ, payload, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != TypeTraceReply {
		t.Fatalf("type = %d, want %d", typ, TypeTraceReply)
	}

	gotKey, gotHops, err := DecodeTraceReply(payload)
	if err != nil {
		t.Fatalf("DecodeTraceReply: %v", err)
	}
	if !gotKey.Equal(key) {
		t.Errorf("key mismatch")
	}
	if len(gotHops) != 2 {
		t.Fatalf("hops = %d, want 2", len(gotHops))
	}
	if gotHops[0].Port != 9000 {
		t.Errorf("hop[0].Port = %d, want 9000", gotHops[0].Port)
	}
	if !gotHops[0].IP.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("hop[0].IP = %v, want 10.0.0.1", gotHops[0].IP)
	}
	if gotHops[1].Port != 9001 {
		t.Errorf("hop[1].Port = %d, want 9001", gotHops[1].Port)
	}
	if !gotHops[1].IP.Equal(net.ParseIP("::1")) {
		t.Errorf("hop[1].IP = %v, want ::1", gotHops[1].IP)
	}
}

func TestTraceReplyExceedingFrameLimitFails(t *testing.T) {
	key := testKey(t, 3)
	// (65535 - 4 - 32) / 64 = 1023 hops fit; one more must fail.
	hops := make([]Hop, 1024)
	for i := range hops {
		hops[i] = Hop{PeerID: testKey(t, byte(i))}
	}

	if _, err := EncodeTraceReply(key, hops); err != ErrFrameTooLarge {
		t.Fatalf("EncodeTraceReply: err = %v, want ErrFrameTooLarge", err)
	}
}

func TestEncodeDecodeErrorFrame(t *testing.T) {
	key := testKey(t, 4)
	frame, err := EncodeError(ErrorFrame{RequestedType: TypeGet, RequestedKey: key})
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}

	typ, payload, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != TypeError {
		t.Fatalf("type = %d, want %d", typ, TypeError)
	}
	ef, err := DecodeError(payload)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if ef.RequestedType != TypeGet {
		t.Errorf("RequestedType = %d, want %d", ef.RequestedType, TypeGet)
	}
	if !ef.RequestedKey.Equal(key) {
		t.Errorf("RequestedKey mismatch")
	}
}

func TestDecodeKeyOnlyRejectsWrongLength(t *testing.T) {
	if _, err := DecodeKeyOnly(make([]byte, KeyLen-1)); err != ErrShortKey {
		t.Fatalf("err = %v, want ErrShortKey", err)
	}
}

func TestReadFrameRejectsShortHeaderSize(t *testing.T) {
	buf := make([]byte, 4)
	buf[1] = 2 // size = 2, shorter than the 4-byte header itself
	if _, _, err := ReadFrame(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected an error for a size shorter than the header")
	}
}
