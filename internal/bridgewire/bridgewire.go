// Package bridgewire implements the stream-bridge wire format of
// spec.md §4.6/§6: a BridgedFrame carrying an identifier, a receipt
// timestamp, and a length-tagged payload, with a 2-byte little-endian
// length prefix on the TCP transport (WebSocket carries one
// BridgedFrame per binary message, unprefixed).
//
// Adapted from the teacher's internal/cnl/codec.go cannelloni codec:
// same big-endian fixed-header-then-payload structure, here exposed as
// EncodePayload/EncodeTCPRecord/EncodeWSMessage and
// DecodePayload/DecodeTCPStream, extended with the timestamp
// field this spec's BridgedFrame adds and switched, per spec.md §6, to
// a little-endian outer length prefix rather than the teacher's
// implicit (headerless) framing.
package bridgewire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

// ErrInvalidLength is returned when a frame's data length exceeds 8
// bytes (classic CAN's payload limit).
var ErrInvalidLength = errors.New("bridgewire: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("bridgewire: truncated frame")

// BridgedFrame is the bridge's wire record: a 29-bit-significant
// identifier, a receipt timestamp, and up to 8 payload bytes.
type BridgedFrame struct {
	ID        uint32
	Timestamp uint32
	Data      []byte
}

// Codec encodes/decodes BridgedFrame values. Stateless, concurrency-safe.
type Codec struct{}

// EncodePayload writes one BridgedFrame's body (no outer length
// prefix): 4-byte BE id, 4-byte BE timestamp, 1-byte length, payload.
func (Codec) EncodePayload(w io.Writer, f BridgedFrame) (int, error) {
	var hdr [9]byte
	binary.BigEndian.PutUint32(hdr[0:4], f.ID)
	binary.BigEndian.PutUint32(hdr[4:8], f.Timestamp)
	hdr[8] = byte(len(f.Data))
	n, err := w.Write(hdr[:])
	if err != nil {
		return n, fmt.Errorf("bridgewire encode header: %w", err)
	}
	if len(f.Data) > 0 {
		m, err := w.Write(f.Data)
		n += m
		if err != nil {
			return n, fmt.Errorf("bridgewire encode data: %w", err)
		}
	}
	return n, nil
}

// EncodeTCPRecord returns a complete TCP wire record: a 2-byte
// little-endian length prefix followed by the BridgedFrame body.
func (Codec) EncodeTCPRecord(f BridgedFrame) []byte {
	var body bytes.Buffer
	body.Grow(9 + len(f.Data))
	_, _ = (Codec{}).EncodePayload(&body, f)
	out := make([]byte, 2+body.Len())
	binary.LittleEndian.PutUint16(out[0:2], uint16(body.Len()))
	copy(out[2:], body.Bytes())
	return out
}

// EncodeWSMessage returns the payload of one WebSocket binary message:
// a bare BridgedFrame body, with no outer length prefix (the WS
// framing itself carries the message boundary).
func (Codec) EncodeWSMessage(f BridgedFrame) []byte {
	var body bytes.Buffer
	body.Grow(9 + len(f.Data))
	_, _ = (Codec{}).EncodePayload(&body, f)
	return body.Bytes()
}

// DecodePayload reads exactly one BridgedFrame body from r (no length
// prefix — the caller has already delimited the record, e.g. via the
// TCP 2-byte prefix or a WS message boundary).
func (Codec) DecodePayload(r io.Reader) (BridgedFrame, error) {
	var f BridgedFrame
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return f, err
	}
	f.ID = binary.BigEndian.Uint32(hdr[0:4])
	f.Timestamp = binary.BigEndian.Uint32(hdr[4:8])
	ln := int(hdr[8])
	if ln > 8 {
		metrics.IncMalformed()
		return f, fmt.Errorf("bridgewire decode: %w (%d)", ErrInvalidLength, ln)
	}
	if ln > 0 {
		f.Data = make([]byte, ln)
		if _, err := io.ReadFull(r, f.Data); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				metrics.IncMalformed()
				return f, fmt.Errorf("bridgewire decode data: %w", ErrTruncatedFrame)
			}
			metrics.IncMalformed()
			return f, err
		}
	}
	return f, nil
}

// DecodeTCPStream peeks the 2-byte little-endian length prefix in buf,
// and if the full record is present, decodes it, returning the decoded
// frame, the number of bytes consumed, and ok=true; buf itself is not
// modified, so the caller drops the consumed bytes. If the
// header or body is not yet fully buffered it returns ok=false with no
// error — the caller should read more bytes and retry. A parse error
// (bad length) is fatal to the connection per spec.md §4.6.
func (c Codec) DecodeTCPStream(buf []byte) (frame BridgedFrame, consumed int, ok bool, err error) {
	if len(buf) < 2 {
		return BridgedFrame{}, 0, false, nil
	}
	length := int(binary.LittleEndian.Uint16(buf[0:2]))
	if 2+length > len(buf) {
		return BridgedFrame{}, 0, false, nil
	}
	f, err := c.DecodePayload(bytes.NewReader(buf[2 : 2+length]))
	if err != nil {
		return BridgedFrame{}, 0, false, err
	}
	return f, 2 + length, true, nil
}
