// Package mitocandria implements the power-distribution-module device
// façade of spec.md §4.5's "other peripherals" extension point: a
// capability interface plus a native implementation over
// internal/candriver, grounded on
// original_source/grapplefrcdriver/src/mitocandria.rs's MitoCANdria
// struct. The Rust's per-channel capability dispatch (non-switchable
// channels report a fixed 5V and can't be toggled or adjusted;
// switchable channels toggle but can't have their voltage set;
// adjustable channels do both) carries over exactly, as does the
// status()-caches-with-a-500ms-freshness-window behavior shared with
// internal/lasercan. Its JNI/C-ABI export surface does not.
package mitocandria

import (
	"context"
	"sync"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/candriver"
	"github.com/grapple-robotics/grplcan-go/internal/grplerr"
	"github.com/grapple-robotics/grplcan-go/internal/grplmsg"
)

const statusFreshness = 500 * time.Millisecond
const requestTimeout = 500 * time.Millisecond

// Device is the capability interface a power-distribution module
// exposes: per-channel current/voltage/setpoint/enabled readback, and
// the two mutators the original's set_enabled/set_voltage dispatch
// across depending on what the addressed channel supports.
type Device interface {
	Current(ctx context.Context, channel uint8) (float64, error)
	Voltage(ctx context.Context, channel uint8) (float64, error)
	VoltageSetpoint(ctx context.Context, channel uint8) (float64, error)
	Enabled(ctx context.Context, channel uint8) (bool, error)
	SetEnabled(ctx context.Context, channel uint8, enabled bool) error
	SetVoltage(ctx context.Context, channel uint8, volts float64) error
}

// Native is a Device backed by a real CAN-attached MitoCANdria.
type Native struct {
	driver *candriver.Driver

	mu       sync.Mutex
	lastAt   time.Time
	lastGood bool
	last     grplmsg.StatusFrame
}

var _ Device = (*Native)(nil)

// New returns a Native power-module façade over driver.
func New(driver *candriver.Driver) *Native {
	return &Native{driver: driver}
}

// status drains any pending frames and returns the most recently
// observed StatusFrame if it is no older than statusFreshness.
func (n *Native) status(ctx context.Context) (grplmsg.StatusFrame, bool) {
	_ = n.driver.Spin(ctx, func(_ can.Fields, msg grplmsg.Variant) bool {
		if st, ok := msg.(grplmsg.StatusFrame); ok {
			n.mu.Lock()
			n.last, n.lastAt, n.lastGood = st, time.Now(), true
			n.mu.Unlock()
		}
		return true
	})

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.lastGood || time.Since(n.lastAt) > statusFreshness {
		n.lastGood = false
		return grplmsg.StatusFrame{}, false
	}
	return n.last, true
}

// channel returns the channel'th entry of the freshest status, or an
// out-of-bounds error matching the original's "Invalid channel!".
func (n *Native) channel(ctx context.Context, channel uint8) (grplmsg.ChannelStatus, error) {
	st, ok := n.status(ctx)
	if !ok {
		return grplmsg.ChannelStatus{}, grplerr.Assertionf("MitoCANdria offline")
	}
	if int(channel) >= len(st.Channels) {
		return grplmsg.ChannelStatus{}, grplerr.OutOfBoundsf("invalid channel %d (module reports %d)", channel, len(st.Channels))
	}
	return st.Channels[channel], nil
}

// Current reports channel's present draw in amps, for every channel kind.
func (n *Native) Current(ctx context.Context, channel uint8) (float64, error) {
	ch, err := n.channel(ctx, channel)
	if err != nil {
		return 0, err
	}
	return float64(ch.CurrentMA) / 1000, nil
}

// Voltage reports channel's present rail voltage: a fixed 5V for
// non-switchable and switchable channels, the live reading for
// adjustable ones.
func (n *Native) Voltage(ctx context.Context, channel uint8) (float64, error) {
	ch, err := n.channel(ctx, channel)
	if err != nil {
		return 0, err
	}
	if ch.Kind == grplmsg.ChannelAdjustable {
		return float64(ch.VoltageMV) / 1000, nil
	}
	return 5.0, nil
}

// VoltageSetpoint reports channel's configured output voltage: a fixed
// 5V for non-switchable and switchable channels, the live setpoint for
// adjustable ones.
func (n *Native) VoltageSetpoint(ctx context.Context, channel uint8) (float64, error) {
	ch, err := n.channel(ctx, channel)
	if err != nil {
		return 0, err
	}
	if ch.Kind == grplmsg.ChannelAdjustable {
		return float64(ch.VoltageSetMV) / 1000, nil
	}
	return 5.0, nil
}

// Enabled reports channel's on/off state. Non-switchable channels are
// always on.
func (n *Native) Enabled(ctx context.Context, channel uint8) (bool, error) {
	ch, err := n.channel(ctx, channel)
	if err != nil {
		return false, err
	}
	if ch.Kind == grplmsg.ChannelNonSwitchable {
		return true, nil
	}
	return ch.Enabled, nil
}

// SetEnabled toggles channel on or off. A non-switchable channel
// rejects the call. An adjustable channel re-sends its current voltage
// setpoint alongside the new enabled state, matching the original's
// set_adjustable(... voltage: *voltage_setpoint) call.
func (n *Native) SetEnabled(ctx context.Context, channel uint8, enabled bool) error {
	ch, err := n.channel(ctx, channel)
	if err != nil {
		return err
	}
	switch ch.Kind {
	case grplmsg.ChannelNonSwitchable:
		return grplerr.Assertionf("cannot switch a non-switchable channel")
	case grplmsg.ChannelSwitchable:
		reply, err := n.driver.Request(ctx, grplmsg.SetSwitchableChannel{Channel: channel, Enabled: enabled}, requestTimeout, 0)
		return ackErr(reply, err)
	default: // ChannelAdjustable
		reply, err := n.driver.Request(ctx, grplmsg.SetAdjustableChannel{Channel: channel, Enabled: enabled, VoltageMV: ch.VoltageSetMV}, requestTimeout, 0)
		return ackErr(reply, err)
	}
}

// SetVoltage sets channel's output voltage. Only adjustable channels
// support this; non-switchable and switchable channels reject the call.
func (n *Native) SetVoltage(ctx context.Context, channel uint8, volts float64) error {
	ch, err := n.channel(ctx, channel)
	if err != nil {
		return err
	}
	if ch.Kind != grplmsg.ChannelAdjustable {
		return grplerr.Assertionf("cannot adjust voltage on a non-adjustable channel")
	}
	reply, err := n.driver.Request(ctx, grplmsg.SetAdjustableChannel{
		Channel:   channel,
		Enabled:   false,
		VoltageMV: uint16(volts * 1000),
	}, requestTimeout, 0)
	return ackErr(reply, err)
}

func ackErr(reply grplmsg.Variant, err error) error {
	if err != nil {
		return err
	}
	if ack, ok := reply.(grplmsg.Ack); ok && !ack.OK {
		return grplerr.Assertionf("device rejected the request (class=%d index=%d)", ack.Class, ack.Index)
	}
	return nil
}
