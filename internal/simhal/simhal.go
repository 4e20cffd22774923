// Package simhal implements an in-memory hal.Adapter over a single
// shared bus slice, used by internal/candriver's and internal/bridge's
// tests and by local demos that have no real CAN interface attached.
// It is the "mock backend" spec.md §9 calls for when it asks the
// driver core to be "parameterized over any implementer" of the HAL
// contract — grounded on the teacher's internal/socketcan/stub.go
// build-tag fallback, which plays the same non-Linux testing role for
// the teacher's SocketCAN backend.
//
// Frames pushed to the bus (by SendFrame or by a test's Inject call)
// are visible to PollFrame callers whose filter matches, and fanned
// out to every open stream session via internal/fanout, mirroring how
// a real CAN transceiver delivers every frame on the wire to every
// listener regardless of who transmitted it.
package simhal

import (
	"context"
	"sync"

	"github.com/grapple-robotics/grplcan-go/internal/fanout"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
)

// Backend is an in-memory CAN bus. The zero value is not usable; use New.
type Backend struct {
	mu      sync.Mutex
	pending []hal.TimestampedFrame // frames not yet claimed by a PollFrame call
	clock   uint32                 // monotonic millisecond counter for synthetic timestamps
	hub     *fanout.Hub
	sent    []hal.Frame // frames handed to SendFrame, for assertions in tests
}

// New returns an empty simulated bus.
func New() *Backend {
	return &Backend{hub: fanout.New()}
}

func (b *Backend) tick() uint32 {
	b.clock++
	return b.clock
}

// SendFrame appends id/data to the bus as if the local node had just
// transmitted it. period is accepted for interface conformance but has
// no effect: simhal never schedules periodic retransmission.
func (b *Backend) SendFrame(_ context.Context, id uint32, data []byte, _ hal.PeriodFlag) error {
	cp := append([]byte(nil), data...)
	b.mu.Lock()
	b.sent = append(b.sent, hal.Frame{ID: id, Data: cp})
	tf := hal.TimestampedFrame{ID: id, Data: cp, Timestamp: b.tick()}
	b.pending = append(b.pending, tf)
	b.mu.Unlock()
	b.hub.Broadcast(tf)
	return nil
}

// Inject places a frame on the bus as if some other simulated device
// had transmitted it — the counterpart test stimulus to SendFrame, for
// scripting a device's scripted replies (spec.md §8 end-to-end
// scenarios) without going through a driver's own send path.
func (b *Backend) Inject(id uint32, data []byte, timestamp uint32) {
	cp := append([]byte(nil), data...)
	tf := hal.TimestampedFrame{ID: id, Data: cp, Timestamp: timestamp}
	b.mu.Lock()
	b.pending = append(b.pending, tf)
	b.mu.Unlock()
	b.hub.Broadcast(tf)
}

// Sent returns a copy of every frame handed to SendFrame so far, for
// assertions in tests (spec.md §8 scenario 5's "the HAL records a
// send_frame(...)").
func (b *Backend) Sent() []hal.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]hal.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

// PollFrame removes and returns the oldest pending frame matching
// filter, if any.
func (b *Backend) PollFrame(_ context.Context, filter hal.Filter) (hal.TimestampedFrame, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, fr := range b.pending {
		if filter.Matches(fr.ID) {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return fr, true, nil
		}
	}
	return hal.TimestampedFrame{}, false, nil
}

// streamHandle is simhal's concrete hal.StreamHandle.
type streamHandle struct {
	client *fanout.Client
}

// OpenStream subscribes a new fanout client matching filter, with an
// Out buffer sized to depth.
func (b *Backend) OpenStream(_ context.Context, filter hal.Filter, depth int) (hal.StreamHandle, error) {
	if depth <= 0 {
		depth = 1024
	}
	c := &fanout.Client{
		Out:    make(chan hal.TimestampedFrame, depth),
		Closed: make(chan struct{}),
		Filter: filter,
	}
	b.hub.Add(c)
	return &streamHandle{client: c}, nil
}

// ReadStream drains up to bufCap frames currently buffered on handle's
// session, without blocking.
func (b *Backend) ReadStream(_ context.Context, handle hal.StreamHandle, bufCap int) ([]hal.TimestampedFrame, error) {
	h, ok := handle.(*streamHandle)
	if !ok || h == nil {
		return nil, nil
	}
	out := make([]hal.TimestampedFrame, 0, bufCap)
	for len(out) < bufCap {
		select {
		case fr := <-h.client.Out:
			out = append(out, fr)
		default:
			return out, nil
		}
	}
	return out, nil
}

// CloseStream releases handle's session. Idempotent: a nil or
// already-closed handle is a no-op.
func (b *Backend) CloseStream(_ context.Context, handle hal.StreamHandle) error {
	h, ok := handle.(*streamHandle)
	if !ok || h == nil {
		return nil
	}
	b.hub.Remove(h.client)
	return nil
}

var _ hal.Adapter = (*Backend)(nil)
