package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/grapple-robotics/grplcan-go/internal/bridge"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("canbridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	adapter, backendCloser, err := initBackend(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	defer func() { _ = backendCloser.Close() }()

	tcp := bridge.NewTCPServer(adapter,
		bridge.WithTCPListenAddr(cfg.tcpListenAddr),
		bridge.WithTCPReadDeadline(cfg.tcpReadTO),
	)
	ws := bridge.NewWSServer(adapter, bridge.WithWSListenAddr(cfg.wsListenAddr))

	go func() {
		if err := tcp.Serve(ctx); err != nil {
			l.Error("tcp_bridge_error", "error", err)
			cancel()
		}
	}()
	go func() {
		if err := ws.Serve(ctx); err != nil {
			l.Error("ws_bridge_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portOf(cfg.tcpListenAddr), portOf(cfg.wsListenAddr))
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
}

// portOf extracts the numeric port from a "host:port" or ":port"
// listen address, returning 0 if it can't be parsed.
func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
