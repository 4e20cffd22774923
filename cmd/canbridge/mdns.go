package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType advertises the bridge the same way the teacher's
// cmd/can-server/mdns.go advertises its TCP endpoint: one fixed service
// type, the WebSocket port carried as a TXT record for discoverers that
// want it.
const mdnsServiceType = "_canbridge._tcp"

func startMDNS(ctx context.Context, cfg *appConfig, tcpPort, wsPort int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("canbridge-%s", host)
	}
	meta := []string{
		"backend=" + cfg.backend,
		"ws_port=" + fmt.Sprint(wsPort),
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", tcpPort, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
