package bridge

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grapple-robotics/grplcan-go/internal/bridgewire"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/logging"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

// WSServer serves the bridge protocol over a WebSocket endpoint,
// accepting exactly one connected client at a time (spec.md §4.6). Its
// teardown/session-open machinery is identical to TCPServer's via the
// shared runSession helper; only the transport framing differs
// (gorilla/websocket binary messages rather than hand-rolled RFC 6455
// framing on top of net/http).
type WSServer struct {
	adapter    hal.Adapter
	listenAddr string
	upgrader   websocket.Upgrader

	busy atomic.Bool
}

// WSOption configures a WSServer.
type WSOption func(*WSServer)

// WithWSListenAddr sets the listen address (default ":7171" per
// spec.md §4.6).
func WithWSListenAddr(addr string) WSOption { return func(s *WSServer) { s.listenAddr = addr } }

// NewWSServer returns a WSServer over adapter with sane defaults.
func NewWSServer(adapter hal.Adapter, opts ...WSOption) *WSServer {
	s := &WSServer{
		adapter:    adapter,
		listenAddr: ":7171",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve starts an HTTP server that upgrades the bridge endpoint to
// WebSocket, honoring ctx cancellation for graceful shutdown.
func (s *WSServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	srv := &http.Server{Addr: s.listenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.L().Info("ws_bridge_listen", "addr", s.listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	return nil
}

// handleUpgrade enforces the single-client gate: a second arrival is
// rejected immediately rather than queued, since net/http serves
// requests concurrently and there is no accept-backlog equivalent to
// lean on the way TCPServer does.
func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.busy.CompareAndSwap(false, true) {
		metrics.IncFanoutReject()
		http.Error(w, "bridge busy", http.StatusServiceUnavailable)
		return
	}
	defer s.busy.Store(false)

	wc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Warn("ws_bridge_upgrade_error", "remote", r.RemoteAddr, "error", err)
		return
	}
	logging.L().Info("ws_bridge_client_connected", "remote", r.RemoteAddr)

	c := &wsConn{wc: wc, remoteAddr: r.RemoteAddr}
	err = runSession(r.Context(), s.adapter, c)
	_ = wc.Close()
	if err != nil && r.Context().Err() == nil && !isDisconnect(err) {
		metrics.IncError(mapErrToMetric(err))
		logging.L().Warn("ws_bridge_session_error", "remote", r.RemoteAddr, "error", err)
	}
	logging.L().Info("ws_bridge_client_disconnected", "remote", r.RemoteAddr)
}

// wsConn adapts a *websocket.Conn to the session conn interface: one
// BridgedFrame per binary message, no outer length prefix.
type wsConn struct {
	wc         *websocket.Conn
	remoteAddr string
}

var _ conn = (*wsConn)(nil)

func (c *wsConn) readFrame() (bridgewire.BridgedFrame, error) {
	kind, data, err := c.wc.ReadMessage()
	if err != nil {
		return bridgewire.BridgedFrame{}, err
	}
	if kind != websocket.BinaryMessage {
		return bridgewire.BridgedFrame{}, fmt.Errorf("%w: unexpected message type %d", ErrParseFrame, kind)
	}
	return decodeWSPayload(data)
}

func decodeWSPayload(data []byte) (bridgewire.BridgedFrame, error) {
	f, err := bridgewire.Codec{}.DecodePayload(bytes.NewReader(data))
	if err != nil {
		return bridgewire.BridgedFrame{}, fmt.Errorf("%w: %v", ErrParseFrame, err)
	}
	return f, nil
}

func (c *wsConn) writeFrame(f bridgewire.BridgedFrame) error {
	return c.wc.WriteMessage(websocket.BinaryMessage, bridgewire.Codec{}.EncodeWSMessage(f))
}

func (c *wsConn) recordRx()      { metrics.IncWSRx() }
func (c *wsConn) recordTx(n int) {
	for i := 0; i < n; i++ {
		metrics.IncWSTx()
	}
}
func (c *wsConn) remote() string { return c.remoteAddr }
func (c *wsConn) close() error   { return c.wc.Close() }
