package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/bridgewire"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/logging"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

// streamPollInterval is how often a session drains its HAL stream
// toward the client. There is no event primitive to wait on (same
// concession candriver makes for request polling).
const streamPollInterval = time.Millisecond

// streamDepth is the ring-buffer depth requested from the HAL when a
// session opens its stream (spec.md §4.6).
const streamDepth = 1024

// conn is the per-transport half of a bridge session: read one frame
// from the client, write one frame to the client. TCP and WebSocket
// each supply their own conn so session carries the single-client
// gate and HAL stream lifecycle exactly once.
type conn interface {
	readFrame() (bridgewire.BridgedFrame, error)
	writeFrame(bridgewire.BridgedFrame) error
	recordRx()
	recordTx(n int)
	remote() string
	// close unblocks any in-flight readFrame/writeFrame call. Called
	// once the session is tearing down so the reader goroutine (which
	// has no other way to observe ctx cancellation mid-read) returns.
	close() error
}

// runSession owns one client's entire HAL stream lifecycle: open,
// pump frames in both directions, and guarantee CloseStream runs on
// every exit path (spec.md §4.6 — "the session is torn down on any
// read error, write error, or disconnect"). It returns once either
// direction fails or ctx is cancelled.
func runSession(ctx context.Context, adapter hal.Adapter, c conn) error {
	handle, err := adapter.OpenStream(ctx, hal.MatchAll, streamDepth)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHalStream, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := adapter.CloseStream(closeCtx, handle); err != nil {
			logging.L().Warn("bridge_close_stream_error", "remote", c.remote(), "error", err)
		}
	}()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- pumpStreamToClient(sessionCtx, adapter, handle, c) }()
	go func() { errc <- pumpClientToStream(sessionCtx, adapter, c) }()

	first := <-errc
	cancel()
	_ = c.close()
	<-errc
	if errors.Is(first, context.Canceled) {
		return nil
	}
	return first
}

// pumpStreamToClient drains the HAL stream and forwards every frame
// to the client until ctx is cancelled or a write fails.
func pumpStreamToClient(ctx context.Context, adapter hal.Adapter, handle hal.StreamHandle, c conn) error {
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frames, err := adapter.ReadStream(ctx, handle, streamDepth)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrHalStream, err)
			}
			for _, fr := range frames {
				out := bridgewire.BridgedFrame{ID: fr.ID, Timestamp: fr.Timestamp, Data: fr.Data}
				if err := c.writeFrame(out); err != nil {
					return fmt.Errorf("%w: %v", ErrConnWrite, err)
				}
			}
			if len(frames) > 0 {
				c.recordTx(len(frames))
			}
		}
	}
}

// pumpClientToStream reads frames sent by the client and forwards
// each to the adapter as an outgoing CAN frame until ctx is cancelled
// or a read/send fails.
func pumpClientToStream(ctx context.Context, adapter hal.Adapter, c conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnRead, err)
		}
		c.recordRx()
		if err := adapter.SendFrame(ctx, f.ID, f.Data, hal.NoRepeat); err != nil {
			metrics.IncError(metrics.ErrHal)
			return fmt.Errorf("%w: %v", ErrHalSend, err)
		}
	}
}
