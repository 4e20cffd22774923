//go:build linux

// Package socketcanhal implements internal/hal.Adapter over a raw
// SocketCAN interface, adapted from the teacher's internal/socketcan
// package: device.go's raw AF_CAN socket plumbing via
// golang.org/x/sys/unix, generalized from the teacher's single
// ReadFrame/WriteFrame Dev interface into the full poll-or-stream HAL
// contract this module's driver and bridge layers expect.
package socketcanhal

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/grapple-robotics/grplcan-go/internal/can"
)

// SocketCAN can_id flag bits (linux/can.h), local to this package
// since they are a wire-format concern of talking to the kernel, not
// part of this module's plain 29-bit arbitration identifier.
const (
	effFlag = 0x80000000
	effMask = 0x1FFFFFFF
)

// Device is a raw SocketCAN socket bound to one interface.
type Device struct {
	fd int
}

// Open binds a raw CAN_RAW socket to iface, disabling CAN FD frames.
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw socket, stripping
// the kernel's EFF flag bit so fr.CANID is a pure 29-bit identifier.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}

	id := binary.LittleEndian.Uint32(buf[0:4])
	dlc := int(buf[4])
	if dlc < 0 || dlc > 8 {
		dlc = 8
	}

	fr.CANID = id & effMask
	fr.Len = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return nil
}

// WriteFrame writes one classic CAN frame to the raw socket, setting
// the kernel's EFF flag bit since every identifier here is 29-bit.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], (fr.CANID&effMask)|effFlag)
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	_, err := unix.Write(d.fd, buf[:])
	return err
}
