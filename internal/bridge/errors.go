package bridge

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is,
// mirroring the teacher's internal/server/errors.go.
var (
	ErrListen     = errors.New("listen")
	ErrAccept     = errors.New("accept")
	ErrConnRead   = errors.New("conn_read")
	ErrConnWrite  = errors.New("conn_write")
	ErrHalSend    = errors.New("hal_send")
	ErrHalStream  = errors.New("hal_stream")
	ErrParseFrame = errors.New("parse_frame")
)

// isDisconnect reports whether err is an ordinary client disconnect
// (EOF or a use of an already-closed connection) rather than a genuine
// protocol or backend fault — mirrors the teacher's reader.go, which
// returns silently on io.EOF/net.ErrClosed instead of logging an error.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "websocket: close")
}

// mapErrToMetric maps a wrapped sentinel error to a bounded-cardinality
// metrics label.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrHalSend), errors.Is(err, ErrHalStream):
		return metrics.ErrHal
	case errors.Is(err, ErrParseFrame):
		return metrics.ErrParse
	default:
		return "other"
	}
}
