// Package can holds the CAN wire primitives shared across the transport
// stack: the classic 8-byte frame and the 29-bit arbitration identifier
// fields that route it.
package can

// Frame is a single classic CAN frame as seen at the HAL boundary.
// CANID holds the 29-bit significant arbitration identifier (no EFF/RTR/
// ERR flag bits — those are a SocketCAN-specific concern handled only by
// internal/socketcanhal at the edge). Len is the payload length (0..8);
// only Data[:Len] is valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [8]byte
}

// CopyShallow returns a value copy of f. Handy in tests and anywhere a
// frame is handed to a consumer that might retain the Data array.
func (f Frame) CopyShallow() Frame {
	var g Frame
	g.CANID, g.Len = f.CANID, f.Len
	copy(g.Data[:], f.Data[:])
	return g
}

// Payload returns the valid slice of f.Data.
func (f Frame) Payload() []byte { return f.Data[:f.Len] }
