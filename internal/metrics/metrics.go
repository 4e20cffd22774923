package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/grapple-robotics/grplcan-go/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial-bridge HAL backend.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN HAL backend.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial-bridge HAL backend.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN HAL backend.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total BridgedFrames received from TCP bridge clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total BridgedFrames sent to TCP bridge clients.",
	})
	WSRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_rx_frames_total",
		Help: "Total BridgedFrames received from the WebSocket bridge client.",
	})
	WSTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_tx_frames_total",
		Help: "Total BridgedFrames sent to the WebSocket bridge client.",
	})
	FanoutDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_dropped_frames_total",
		Help: "Total CAN frames dropped by the fan-out hub due to a slow subscriber.",
	})
	FanoutKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_kicked_clients_total",
		Help: "Total subscribers disconnected due to the backpressure kick policy.",
	})
	FanoutRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_rejected_clients_total",
		Help: "Total subscription attempts rejected (e.g., bridge already has a client).",
	})
	FanoutActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_active_clients",
		Help: "Current number of active fan-out subscribers.",
	})
	FanoutBroadcastSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_broadcast_size",
		Help: "Number of subscribers matched by the most recent broadcast.",
	})
	FanoutQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_queue_depth_max",
		Help: "Observed max queued frames among subscribers since last sample window.",
	})
	FanoutQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_queue_depth_avg",
		Help: "Approximate average queued frames per subscriber in last sample.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem, labeled with an error kind or transport-specific label.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	FragmentsReassembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fragments_reassembled_total",
		Help: "Total fragmented vendor messages successfully reassembled.",
	})
	FragmentsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fragments_discarded_total",
		Help: "Total partial fragment reassemblies discarded (out-of-order or stale).",
	})
	FragmentPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fragment_pending_entries",
		Help: "Current number of in-flight reassembly entries.",
	})
	RequestAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_attempts_total",
		Help: "Total request/reply attempts issued by CAN drivers (including retries).",
	})
	RequestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_retries_total",
		Help: "Total request/reply retries triggered by a timed-out attempt.",
	})
	RequestTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_timeouts_total",
		Help: "Total request/reply calls that exhausted their retry budget.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
// Mirrors internal/grplerr.Kind plus the transport-specific labels the
// taxonomy doesn't itself carry.
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrWSRead         = "ws_read"
	ErrWSWrite        = "ws_write"
	ErrHandshake      = "handshake"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANRead  = "socketcan_read"
	ErrTimeout        = "timeout"
	ErrOutOfBounds    = "parameter_out_of_bounds"
	ErrAssertion      = "failed_assertion"
	ErrParse          = "parse_error"
	ErrHal            = "hal_error"
)

// StartHTTP starts an HTTP server on addr with its own mux, serving
// Prometheus metrics at /metrics and the readiness probe at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy periodic logging (avoids scraping
// Prometheus in-process).
var (
	localSerialRx     uint64
	localSerialTx     uint64
	localSocketCANTx  uint64
	localSocketCANRx  uint64
	localTCPRx        uint64
	localTCPTx        uint64
	localWSRx         uint64
	localWSTx         uint64
	localFanoutDrop   uint64
	localFanoutKick   uint64
	localFanoutReject uint64
	localErrors       uint64
	localFanoutActive uint64
	localFanoutSize   uint64
	localMalformed    uint64
	localQDMax        uint64
	localQDAvg        uint64
	localFragReasm    uint64
	localFragDiscard  uint64
	localReqAttempts  uint64
	localReqRetries   uint64
	localReqTimeouts  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx         uint64
	SocketCANRx      uint64
	SerialTx         uint64
	SocketCANTx      uint64
	TCPRx            uint64
	TCPTx            uint64
	WSRx             uint64
	WSTx             uint64
	FanoutDrops      uint64
	FanoutKicks      uint64
	FanoutRejects    uint64
	Errors           uint64 // sum across error labels
	FanoutActive     uint64
	FanoutBroadcast  uint64
	Malformed        uint64
	QueueDepthMax    uint64
	QueueDepthAvg    uint64
	FragmentsReasm   uint64
	FragmentsDiscard uint64
	RequestAttempts  uint64
	RequestRetries   uint64
	RequestTimeouts  uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:         atomic.LoadUint64(&localSerialRx),
		SocketCANRx:      atomic.LoadUint64(&localSocketCANRx),
		SerialTx:         atomic.LoadUint64(&localSerialTx),
		SocketCANTx:      atomic.LoadUint64(&localSocketCANTx),
		TCPRx:            atomic.LoadUint64(&localTCPRx),
		TCPTx:            atomic.LoadUint64(&localTCPTx),
		WSRx:             atomic.LoadUint64(&localWSRx),
		WSTx:             atomic.LoadUint64(&localWSTx),
		FanoutDrops:      atomic.LoadUint64(&localFanoutDrop),
		FanoutKicks:      atomic.LoadUint64(&localFanoutKick),
		FanoutRejects:    atomic.LoadUint64(&localFanoutReject),
		Errors:           atomic.LoadUint64(&localErrors),
		FanoutActive:     atomic.LoadUint64(&localFanoutActive),
		FanoutBroadcast:  atomic.LoadUint64(&localFanoutSize),
		Malformed:        atomic.LoadUint64(&localMalformed),
		QueueDepthMax:    atomic.LoadUint64(&localQDMax),
		QueueDepthAvg:    atomic.LoadUint64(&localQDAvg),
		FragmentsReasm:   atomic.LoadUint64(&localFragReasm),
		FragmentsDiscard: atomic.LoadUint64(&localFragDiscard),
		RequestAttempts:  atomic.LoadUint64(&localReqAttempts),
		RequestRetries:   atomic.LoadUint64(&localReqRetries),
		RequestTimeouts:  atomic.LoadUint64(&localReqTimeouts),
	}
}

func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncWSRx() {
	WSRxFrames.Inc()
	atomic.AddUint64(&localWSRx, 1)
}

func IncWSTx() {
	WSTxFrames.Inc()
	atomic.AddUint64(&localWSTx, 1)
}

func IncFanoutDrop() {
	FanoutDroppedFrames.Inc()
	atomic.AddUint64(&localFanoutDrop, 1)
}

func IncFanoutKick() {
	FanoutKickedClients.Inc()
	atomic.AddUint64(&localFanoutKick, 1)
}

func IncFanoutReject() {
	FanoutRejectedClients.Inc()
	atomic.AddUint64(&localFanoutReject, 1)
}

func SetFanoutClients(n int) {
	FanoutActiveClients.Set(float64(n))
	atomic.StoreUint64(&localFanoutActive, uint64(n))
}

func SetFanoutBroadcast(n int) {
	FanoutBroadcastSize.Set(float64(n))
	atomic.StoreUint64(&localFanoutSize, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	FanoutQueueDepthMax.Set(float64(max))
	FanoutQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

func IncFragmentReassembled() {
	FragmentsReassembled.Inc()
	atomic.AddUint64(&localFragReasm, 1)
}

func IncFragmentDiscarded() {
	FragmentsDiscarded.Inc()
	atomic.AddUint64(&localFragDiscard, 1)
}

func SetFragmentPending(n int) {
	FragmentPending.Set(float64(n))
}

func IncRequestAttempt() {
	RequestAttempts.Inc()
	atomic.AddUint64(&localReqAttempts, 1)
}

func IncRequestRetry() {
	RequestRetries.Inc()
	atomic.AddUint64(&localReqRetries, 1)
}

func IncRequestTimeout() {
	RequestTimeouts.Inc()
	atomic.AddUint64(&localReqTimeouts, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrWSRead, ErrWSWrite, ErrHandshake,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
		ErrTimeout, ErrOutOfBounds, ErrAssertion, ErrParse, ErrHal,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
