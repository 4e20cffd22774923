//go:build !linux

package socketcanhal

import (
	"errors"

	"github.com/grapple-robotics/grplcan-go/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN,
// mirroring the teacher's socketcan stub.go non-Linux fallback.
var ErrUnsupported = errors.New("socketcanhal: SocketCAN is only available on linux")

// Device is an unusable stand-in so this package still compiles on
// non-Linux build targets (e.g. a developer's macOS workstation
// running the simhal-backed test suite).
type Device struct{}

func Open(string) (*Device, error) { return nil, ErrUnsupported }

func (*Device) Close() error             { return ErrUnsupported }
func (*Device) ReadFrame(*can.Frame) error { return ErrUnsupported }
func (*Device) WriteFrame(can.Frame) error { return ErrUnsupported }
