// Package bridge implements the stream bridge of spec.md §4.6: a TCP
// server and a WebSocket server, each exposing the live CAN bus to
// exactly one connected client at a time via internal/bridgewire
// framing over an internal/hal.Adapter stream session.
//
// Adapted from the teacher's internal/server package: the same
// functional-options Server shape and accept-loop/per-connection
// goroutine split as server.go/reader.go/writer.go, generalized from
// "broadcast to every hub subscriber" to "exactly one stream session
// per connection, and the OS accept backlog naturally queues the
// next arrival" — the teacher's CannelloniHandshake and
// maxClients-via-hub-count check are dropped since this protocol has
// no handshake and "one client" is structural, not counted.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/bridgewire"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/logging"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

// TCPServer serves the bridge protocol over a TCP listener.
type TCPServer struct {
	adapter      hal.Adapter
	listenAddr   string
	readDeadline time.Duration

	mu sync.Mutex
	ln net.Listener
}

// TCPOption configures a TCPServer.
type TCPOption func(*TCPServer)

// WithTCPListenAddr sets the listen address (default ":8006" per
// spec.md §4.6's 0.0.0.0:8006).
func WithTCPListenAddr(addr string) TCPOption { return func(s *TCPServer) { s.listenAddr = addr } }

// WithTCPReadDeadline bounds how long a read may block before the
// connection is dropped as idle. Zero disables the deadline.
func WithTCPReadDeadline(d time.Duration) TCPOption {
	return func(s *TCPServer) { s.readDeadline = d }
}

// NewTCPServer returns a TCPServer over adapter with sane defaults.
func NewTCPServer(adapter hal.Adapter, opts ...TCPOption) *TCPServer {
	s := &TCPServer{adapter: adapter, listenAddr: ":8006"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts connections until ctx is cancelled, running exactly
// one session at a time: Accept is not called again until the
// current client's session has fully torn down, so a second arrival
// waits in the OS backlog per spec.md §4.6.
func (s *TCPServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logging.L().Info("tcp_bridge_listen", "addr", s.listenAddr)
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrAccept, err)
		}
		s.handle(ctx, nc)
	}
}

// handle runs one client's session to completion before Serve accepts
// the next connection.
func (s *TCPServer) handle(ctx context.Context, nc net.Conn) {
	logging.L().Info("tcp_bridge_client_connected", "remote", nc.RemoteAddr())
	c := &tcpConn{nc: nc, readDeadline: s.readDeadline}
	err := runSession(ctx, s.adapter, c)
	_ = nc.Close()
	if err != nil && ctx.Err() == nil && !isDisconnect(err) {
		metrics.IncError(mapErrToMetric(err))
		logging.L().Warn("tcp_bridge_session_error", "remote", nc.RemoteAddr(), "error", err)
	}
	logging.L().Info("tcp_bridge_client_disconnected", "remote", nc.RemoteAddr())
}

// tcpConn adapts a net.Conn to the session conn interface, buffering
// partially-received records the way the teacher's reader.go
// accumulates bytes across Read calls.
type tcpConn struct {
	nc           net.Conn
	readDeadline time.Duration
	buf          bytes.Buffer
	scratch      [4096]byte
}

var _ conn = (*tcpConn)(nil)

func (c *tcpConn) readFrame() (bridgewire.BridgedFrame, error) {
	codec := bridgewire.Codec{}
	for {
		if frame, consumed, ok, err := codec.DecodeTCPStream(c.buf.Bytes()); err != nil {
			return bridgewire.BridgedFrame{}, fmt.Errorf("%w: %v", ErrParseFrame, err)
		} else if ok {
			c.buf.Next(consumed)
			return frame, nil
		}
		if c.readDeadline > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.readDeadline))
		}
		n, err := c.nc.Read(c.scratch[:])
		if n > 0 {
			c.buf.Write(c.scratch[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return bridgewire.BridgedFrame{}, io.EOF
			}
			return bridgewire.BridgedFrame{}, err
		}
	}
}

func (c *tcpConn) writeFrame(f bridgewire.BridgedFrame) error {
	_, err := c.nc.Write(bridgewire.Codec{}.EncodeTCPRecord(f))
	return err
}

func (c *tcpConn) recordRx()      { metrics.IncTCPRx() }
func (c *tcpConn) recordTx(n int) { metrics.AddTCPTx(n) }
func (c *tcpConn) remote() string { return c.nc.RemoteAddr().String() }
func (c *tcpConn) close() error   { return c.nc.Close() }
