// Package serialhal implements internal/hal.Adapter over a UART link
// using the device's custom framing protocol, adapted from the
// teacher's internal/serial package (port.go's tarm/serial-backed
// Port, codec.go's preamble/length/checksum UART framing, and
// txwriter.go's AsyncTx-funneled writer) — generalized from the
// teacher's "decode bytes, broadcast to every TCP hub subscriber" loop
// to this module's poll-or-stream hal.Adapter contract.
package serialhal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	tarmserial "github.com/tarm/serial"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/fanout"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/logging"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
	"github.com/grapple-robotics/grplcan-go/internal/transport"
)

// ErrTxOverflow is returned by SendFrame when the write queue is full.
var ErrTxOverflow = errors.New("serialhal: tx overflow")

const (
	txQueueSize       = 64
	readBufSize       = 512
	rxBackoffMin      = 10 * time.Millisecond
	rxBackoffMax      = 2 * time.Second
	largeBufReclaimAt = 16 * 1024
)

// Port abstracts the serial device for testability, mirroring the
// teacher's serial.Port interface.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens a real tarm/serial port.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &tarmserial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return tarmserial.OpenPort(cfg)
}

// Backend is a hal.Adapter backed by one open serial Port.
type Backend struct {
	port  Port
	tx    *transport.AsyncTx
	hub   *fanout.Hub
	start time.Time

	mu      sync.Mutex
	pending []hal.TimestampedFrame

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ hal.Adapter = (*Backend)(nil)

// New opens port (via Open) and starts its receive loop.
func New(device string, baud int, readTimeout time.Duration) (*Backend, error) {
	p, err := Open(device, baud, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("serialhal: open %s: %w", device, err)
	}
	return newBackend(p), nil
}

// newBackend wraps an already-open Port, used directly by New and by
// tests that substitute a fake Port.
func newBackend(p Port) *Backend {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{port: p, hub: fanout.New(), start: time.Now(), cancel: cancel}

	send := func(fr can.Frame) error {
		_, err := p.Write(encodeFrame(fr))
		return err
	}
	b.tx = transport.NewAsyncTx(ctx, txQueueSize, send, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serialhal_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncSerialTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	})

	b.wg.Add(1)
	go b.rxLoop(ctx)
	return b
}

func (b *Backend) tick() uint32 { return uint32(time.Since(b.start).Milliseconds()) }

// SendFrame queues one frame for asynchronous transmission.
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
// closes the underlying port.
func (b *Backend) Close() error {
	b.cancel()
	b.wg.Wait()
	b.tx.Close()
	return b.port.Close()
}

func (b *Backend) rxLoop(ctx context.Context) {
	defer b.wg.Done()
	defer logging.L().Info("serialhal_rx_end")
	buf := make([]byte, readBufSize)
	acc := bytes.NewBuffer(nil)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := b.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			decodeStream(acc, func(fr can.Frame) {
				tf := hal.TimestampedFrame{ID: fr.CANID, Data: append([]byte(nil), fr.Payload()...), Timestamp: b.tick()}
				b.mu.Lock()
				b.pending = append(b.pending, tf)
				b.mu.Unlock()
				metrics.IncSerialRx()
				b.hub.Broadcast(tf)
			})
			if acc.Len() == 0 && cap(acc.Bytes()) > largeBufReclaimAt {
				acc = bytes.NewBuffer(nil)
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue
			}
			metrics.IncError(metrics.ErrSerialRead)
			logging.L().Warn("serialhal_read_error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}
