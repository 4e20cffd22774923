package bridgewire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func mkFrame(id uint32, n int) BridgedFrame {
	data := make([]byte, n)
	rand.Read(data)
	return BridgedFrame{ID: id & 0x1FFFFFFF, Timestamp: uint32(n * 7), Data: data}
}

func TestTCPRecordRoundTrip(t *testing.T) {
	c := Codec{}
	f := mkFrame(0x1234, 2)
	rec := c.EncodeTCPRecord(f)

	got, consumed, ok, err := c.DecodeTCPStream(rec)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if consumed != len(rec) {
		t.Fatalf("expected to consume the whole record, got %d of %d", consumed, len(rec))
	}
	if got.ID != f.ID || got.Timestamp != f.Timestamp || !bytes.Equal(got.Data, f.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
}

func TestTCPStreamWaitsForFullRecord(t *testing.T) {
	c := Codec{}
	f := mkFrame(0x5678, 8)
	rec := c.EncodeTCPRecord(f)

	// Partial record: header present but body truncated.
	_, _, ok, err := c.DecodeTCPStream(rec[:len(rec)-1])
	if err != nil {
		t.Fatalf("partial record should not be an error: %v", err)
	}
	if ok {
		t.Fatalf("partial record should not decode yet")
	}

	// Even the 2-byte length prefix alone isn't enough.
	_, _, ok, err = c.DecodeTCPStream(rec[:2])
	if err != nil || ok {
		t.Fatalf("2 bytes should not be a complete record: ok=%v err=%v", ok, err)
	}
}

func TestWSMessageRoundTrip(t *testing.T) {
	c := Codec{}
	f := mkFrame(0x1122, 0)
	msg := c.EncodeWSMessage(f)
	got, err := c.DecodePayload(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != f.ID || got.Timestamp != f.Timestamp || len(got.Data) != 0 {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
}

func TestDecodeRejectsOversizeLength(t *testing.T) {
	c := Codec{}
	var hdr [9]byte
	hdr[8] = 9 // beyond the 8-byte classic CAN payload limit
	_, err := c.DecodePayload(bytes.NewReader(hdr[:]))
	if err == nil {
		t.Fatalf("expected an error for an oversize length byte")
	}
}
