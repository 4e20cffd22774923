// Package lasercan implements the distance-sensor device façade of
// spec.md §4.5: a small capability interface plus a native
// implementation over internal/candriver, grounded on
// original_source/grapplefrcdriver/src/lasercan.rs's LaserCanImpl
// trait and NativeLaserCan struct — the Rust's status()-polls-then-
// caches-with-a-500ms-freshness-window behavior carries over exactly,
// its JNI/C-ABI export surface does not (this module exposes a plain
// Go API, not a cross-language handle).
package lasercan

import (
	"context"
	"sync"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/candriver"
	"github.com/grapple-robotics/grplcan-go/internal/grplerr"
	"github.com/grapple-robotics/grplcan-go/internal/grplmsg"
)

// statusFreshness bounds how old a cached Status may be before Status
// reports it as stale (original_source's 500ms window).
const statusFreshness = 500 * time.Millisecond

// requestTimeout is the request/reply budget for config calls,
// matching the original's request(..., 500) calls.
const requestTimeout = 500 * time.Millisecond

// Device is the capability interface a distance sensor exposes,
// mirroring LaserCanImpl: poll the latest status, and issue the three
// config requests.
type Device interface {
	Status(ctx context.Context) (grplmsg.Status, bool)
	SetRange(ctx context.Context, long bool) error
	SetTimingBudget(ctx context.Context, budgetMS uint8) error
	SetRoi(ctx context.Context, roi grplmsg.Roi) error
}

// Native is a Device backed by a real CAN-attached LaserCAN.
type Native struct {
	driver *candriver.Driver

	mu       sync.Mutex
	lastAt   time.Time
	lastGood bool
	last     grplmsg.Status
}

var _ Device = (*Native)(nil)

// New returns a Native distance-sensor façade over driver.
func New(driver *candriver.Driver) *Native {
	return &Native{driver: driver}
}

// Status drains any pending frames and returns the most recently
// observed Status if it is no older than statusFreshness, exactly as
// the original's status() caches-with-expiry behavior.
func (n *Native) Status(ctx context.Context) (grplmsg.Status, bool) {
	_ = n.driver.Spin(ctx, func(_ can.Fields, msg grplmsg.Variant) bool {
		if st, ok := msg.(grplmsg.Status); ok {
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
		return grplmsg.Status{}, false
	}
	return n.last, true
}

func (n *Native) SetRange(ctx context.Context, long bool) error {
	reply, err := n.driver.Request(ctx, grplmsg.SetRange{Long: long}, requestTimeout, 0)
	return ackErr(reply, err)
}

func (n *Native) SetTimingBudget(ctx context.Context, budgetMS uint8) error {
	reply, err := n.driver.Request(ctx, grplmsg.SetTimingBudget{BudgetMS: budgetMS}, requestTimeout, 0)
	return ackErr(reply, err)
}

func (n *Native) SetRoi(ctx context.Context, roi grplmsg.Roi) error {
	reply, err := n.driver.Request(ctx, grplmsg.SetRoi{Roi: roi}, requestTimeout, 0)
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
