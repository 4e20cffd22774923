package main

import (
	"fmt"
	"log/slog"

	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/serialhal"
	"github.com/grapple-robotics/grplcan-go/internal/simhal"
	"github.com/grapple-robotics/grplcan-go/internal/socketcanhal"
)

// closer is satisfied by every backend's Close method.
type closer interface{ Close() error }

// initBackend selects and opens the configured HAL backend, returning
// it as a hal.Adapter plus its Close method for shutdown.
func initBackend(cfg *appConfig, l *slog.Logger) (hal.Adapter, closer, error) {
	switch cfg.backend {
	case "sim":
		l.Info("backend_open", "backend", "sim")
		b := simhal.New()
		return b, noopCloser{}, nil
	case "serial":
		l.Info("backend_open", "backend", "serial", "device", cfg.serialDev, "baud", cfg.baud)
		b, err := serialhal.New(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, nil, fmt.Errorf("open serial: %w", err)
		}
		return b, b, nil
	case "socketcan":
		l.Info("backend_open", "backend", "socketcan", "if", cfg.canIf)
		b, err := socketcanhal.New(cfg.canIf)
		if err != nil {
			return nil, nil, fmt.Errorf("open socketcan %s: %w", cfg.canIf, err)
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (use sim|serial|socketcan)", cfg.backend)
	}
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
