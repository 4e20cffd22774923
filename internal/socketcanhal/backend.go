package socketcanhal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/fanout"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/logging"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
	"github.com/grapple-robotics/grplcan-go/internal/transport"
)

const (
	txQueueSize  = 64
	rxBackoffMin = 10 * time.Millisecond
	rxBackoffMax = 2 * time.Second
)

// ErrTxOverflow is returned by SendFrame when the write queue is full.
var ErrTxOverflow = errors.New("socketcanhal: tx overflow")

// Dev is the minimal device contract Backend needs, implemented by
// *Device in production and by fakes in tests — mirrors the teacher's
// socketcan.Dev interface.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// Backend is a hal.Adapter backed by one bound SocketCAN device.
type Backend struct {
	dev   Dev
	tx    *transport.AsyncTx
	hub   *fanout.Hub
	start time.Time

	mu      sync.Mutex
	pending []hal.TimestampedFrame

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ hal.Adapter = (*Backend)(nil)

// New opens a raw SocketCAN device on iface and starts its receive loop.
func New(iface string) (*Backend, error) {
	dev, err := Open(iface)
	if err != nil {
		return nil, err
	}
	return newBackend(dev), nil
}

func newBackend(dev Dev) *Backend {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{dev: dev, hub: fanout.New(), start: time.Now(), cancel: cancel}

	b.tx = transport.NewAsyncTx(ctx, txQueueSize, dev.WriteFrame, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			logging.L().Error("socketcanhal_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncSocketCANTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	})

	b.wg.Add(1)
	go b.rxLoop(ctx)
	return b
}

func (b *Backend) tick() uint32 { return uint32(time.Since(b.start).Milliseconds()) }

func (b *Backend) SendFrame(_ context.Context, id uint32, data []byte, _ hal.PeriodFlag) error {
	var fr can.Frame
	fr.CANID = id
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return b.tx.SendFrame(fr)
}

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

type streamHandle struct{ client *fanout.Client }

func (b *Backend) OpenStream(_ context.Context, filter hal.Filter, depth int) (hal.StreamHandle, error) {
	if depth <= 0 {
		depth = 1024
	}
	c := &fanout.Client{Out: make(chan hal.TimestampedFrame, depth), Closed: make(chan struct{}), Filter: filter}
	b.hub.Add(c)
	return &streamHandle{client: c}, nil
}

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

func (b *Backend) CloseStream(_ context.Context, handle hal.StreamHandle) error {
	h, ok := handle.(*streamHandle)
	if !ok || h == nil {
		return nil
	}
	b.hub.Remove(h.client)
	return nil
}

// Close stops the receive loop and the asynchronous writer, and
// closes the underlying device.
func (b *Backend) Close() error {
	b.cancel()
	b.wg.Wait()
	b.tx.Close()
	return b.dev.Close()
}

func (b *Backend) rxLoop(ctx context.Context) {
	defer b.wg.Done()
	defer logging.L().Info("socketcanhal_rx_end")
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var fr can.Frame
		if err := b.dev.ReadFrame(&fr); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			logging.L().Warn("socketcanhal_read_error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
			continue
		}
		metrics.IncSocketCANRx()
		backoff = rxBackoffMin
		tf := hal.TimestampedFrame{ID: fr.CANID, Data: append([]byte(nil), fr.Payload()...), Timestamp: b.tick()}
		b.mu.Lock()
		b.pending = append(b.pending, tf)
		b.mu.Unlock()
		b.hub.Broadcast(tf)
	}
}
