package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"socketcan_rx", snap.SocketCANRx,
					"serial_tx", snap.SerialTx,
					"socketcan_tx", snap.SocketCANTx,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"ws_rx", snap.WSRx,
					"ws_tx", snap.WSTx,
					"fanout_drops", snap.FanoutDrops,
					"fanout_rejects", snap.FanoutRejects,
					"errors", snap.Errors,
					"request_attempts", snap.RequestAttempts,
					"request_retries", snap.RequestRetries,
					"request_timeouts", snap.RequestTimeouts,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
