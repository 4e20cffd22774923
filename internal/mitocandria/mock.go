package mitocandria

import (
	"context"
	"sync"

	"github.com/grapple-robotics/grplcan-go/internal/grplerr"
)

var (
	errCannotSwitch = grplerr.Assertionf("cannot switch a non-switchable channel")
	errCannotAdjust = grplerr.Assertionf("cannot adjust voltage on a non-adjustable channel")
)

// Mock is a Device test double backed by an in-memory channel table,
// for exercising callers without a real CAN-attached module.
type Mock struct {
	mu sync.Mutex

	currentA    map[uint8]float64
	voltage     map[uint8]float64
	setpoint    map[uint8]float64
	enabled     map[uint8]bool
	switchable  map[uint8]bool
	adjustable  map[uint8]bool

	Err error
}

var _ Device = (*Mock)(nil)

// NewMock returns an empty Mock: every channel defaults to
// non-switchable (always enabled, fixed 5V) until configured otherwise
// via MakeSwitchable/MakeAdjustable.
func NewMock() *Mock {
	return &Mock{
		currentA:   map[uint8]float64{},
		voltage:    map[uint8]float64{},
		setpoint:   map[uint8]float64{},
		enabled:    map[uint8]bool{},
		switchable: map[uint8]bool{},
		adjustable: map[uint8]bool{},
	}
}

// MakeSwitchable marks channel as a switchable (toggle-only) channel.
func (m *Mock) MakeSwitchable(channel uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switchable[channel] = true
	delete(m.adjustable, channel)
}

// MakeAdjustable marks channel as an adjustable (toggle + voltage) channel.
func (m *Mock) MakeAdjustable(channel uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustable[channel] = true
	delete(m.switchable, channel)
}

// SetCurrent scripts channel's reported current draw, in amps.
func (m *Mock) SetCurrent(channel uint8, amps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentA[channel] = amps
}

func (m *Mock) Current(_ context.Context, channel uint8) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentA[channel], m.Err
}

func (m *Mock) Voltage(_ context.Context, channel uint8) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.adjustable[channel] {
		return 5.0, m.Err
	}
	return m.voltage[channel], m.Err
}

func (m *Mock) VoltageSetpoint(_ context.Context, channel uint8) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.adjustable[channel] {
		return 5.0, m.Err
	}
	return m.setpoint[channel], m.Err
}

func (m *Mock) Enabled(_ context.Context, channel uint8) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.switchable[channel] && !m.adjustable[channel] {
		return true, m.Err
	}
	return m.enabled[channel], m.Err
}

func (m *Mock) SetEnabled(_ context.Context, channel uint8, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.switchable[channel] && !m.adjustable[channel] {
		return errCannotSwitch
	}
	m.enabled[channel] = enabled
	return m.Err
}

func (m *Mock) SetVoltage(_ context.Context, channel uint8, volts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.adjustable[channel] {
		return errCannotAdjust
	}
	m.setpoint[channel] = volts
	m.voltage[channel] = volts
	return m.Err
}
