package lasercan

import (
	"context"
	"sync"

	"github.com/grapple-robotics/grplcan-go/internal/grplmsg"
)

// Mock is a Device test double: Status returns whatever ScriptStatus
// set, and every config call records its argument and returns Err.
type Mock struct {
	mu sync.Mutex

	status    grplmsg.Status
	hasStatus bool

	Err error

	LastRange   *bool
	LastTiming  *uint8
	LastRoi     *grplmsg.Roi
}

var _ Device = (*Mock)(nil)

// ScriptStatus makes subsequent Status calls report st until cleared.
func (m *Mock) ScriptStatus(st grplmsg.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status, m.hasStatus = st, true
}

// ClearStatus makes subsequent Status calls report no fresh status.
func (m *Mock) ClearStatus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasStatus = false
}

func (m *Mock) Status(context.Context) (grplmsg.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.hasStatus
}

func (m *Mock) SetRange(_ context.Context, long bool) error {
	m.mu.Lock()
	m.LastRange = &long
	m.mu.Unlock()
	return m.Err
}

func (m *Mock) SetTimingBudget(_ context.Context, budgetMS uint8) error {
	m.mu.Lock()
	m.LastTiming = &budgetMS
	m.mu.Unlock()
	return m.Err
}

func (m *Mock) SetRoi(_ context.Context, roi grplmsg.Roi) error {
	m.mu.Lock()
	m.LastRoi = &roi
	m.mu.Unlock()
	return m.Err
}
