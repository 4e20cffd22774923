// Package hal defines the CAN hardware-abstraction-layer contract of
// spec.md §4.1: a thin, typed wrapper around raw CAN primitives with no
// buffering and no retry of its own. Concrete backends
// (internal/socketcanhal, internal/serialhal, internal/simhal)
// implement Adapter; internal/candriver and internal/bridge are the
// only consumers. Modeled on the teacher's transport.FrameSink /
// FrameDecoder split (internal/transport/transport.go), generalized to
// the full five-operation HAL contract this spec names instead of the
// teacher's two-operation send/decode pair.
package hal

import "context"

// NoRepeat is the send-period flag value meaning "transmit once, do
// not schedule periodic retransmission" (spec.md §4.1/§6). It is
// opaque to callers beyond this sentinel.
const NoRepeat PeriodFlag = 0

// PeriodFlag selects periodic-retransmission behavior for SendFrame.
// Backends that cannot schedule periodic sends (every backend in this
// module) treat any value as NoRepeat.
type PeriodFlag uint8

// Frame is one CAN frame as seen at the HAL boundary: a 29-bit
// significant identifier and up to 8 payload bytes. It has no notion
// of fragment headers or vendor payloads — those belong to higher
// layers.
type Frame struct {
	ID   uint32
	Data []byte
}

// TimestampedFrame is a Frame as delivered by a stream session, with
// the backend's receipt timestamp (milliseconds since an
// implementation-defined epoch; only relative ordering is meaningful
// across the module's lifetime).
type TimestampedFrame struct {
	ID        uint32
	Data      []byte
	Timestamp uint32
}

// Filter selects which identifiers a poll or stream session observes.
// An identifier id matches when id&Mask == ID&Mask. Filter{0,0}
// matches every frame (spec.md §6: "match-all").
type Filter struct {
	ID   uint32
	Mask uint32
}

// MatchAll is the filter used by the stream bridge (spec.md §4.6).
var MatchAll = Filter{ID: 0, Mask: 0}

func (f Filter) Matches(id uint32) bool { return id&f.Mask == f.ID&f.Mask }

// StreamHandle is an opaque, backend-owned stream-session reference.
// CloseStream must accept a zero-value or already-closed handle
// without error (idempotent per spec.md §4.1).
type StreamHandle interface{}

// Adapter is the HAL contract. It does no buffering beyond what a
// stream session's own ring holds, and no retry — those are
// internal/candriver's and internal/bridge's responsibility.
type Adapter interface {
	// SendFrame transmits one frame. period selects repeat behavior;
	// every backend here treats it as NoRepeat.
	SendFrame(ctx context.Context, id uint32, data []byte, period PeriodFlag) error

	// PollFrame returns the next buffered frame matching filter, or
	// ok=false if none is currently available. It never blocks.
	PollFrame(ctx context.Context, filter Filter) (frame TimestampedFrame, ok bool, err error)

	// OpenStream opens a ring-buffered session of the given depth that
	// accumulates every frame matching filter until ReadStream drains
	// it or CloseStream releases it.
	OpenStream(ctx context.Context, filter Filter, depth int) (StreamHandle, error)

	// ReadStream drains up to bufCap frames accumulated by handle's
	// session since the last read.
	ReadStream(ctx context.Context, handle StreamHandle, bufCap int) ([]TimestampedFrame, error)

	// CloseStream releases handle's session. Idempotent: closing an
	// already-closed or nil handle is a no-op, not an error.
	CloseStream(ctx context.Context, handle StreamHandle) error
}
