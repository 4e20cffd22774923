package lasercan

import (
	"context"
	"testing"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/candriver"
	"github.com/grapple-robotics/grplcan-go/internal/grplmsg"
	"github.com/grapple-robotics/grplcan-go/internal/simhal"
)

const (
	testDeviceType = grplmsg.DeviceTypeDistanceSensor
	testDeviceID   = 0x09
)

func injectStatus(bus *simhal.Backend, st grplmsg.Status) {
	id := can.Fields{DeviceType: testDeviceType, APIClass: st.APIClass(), APIIndex: st.APIIndex(), DeviceID: testDeviceID}
	bus.Inject(can.Encode(id), grplmsg.Encode(st), 0)
}

func TestStatusReturnsFreshlyInjectedFrame(t *testing.T) {
	bus := simhal.New()
	n := New(candriver.New(bus, testDeviceType, testDeviceID))

	want := grplmsg.Status{StatusCode: 0, DistanceMM: 500, Ambient: 10, BudgetMS: 33}
	injectStatus(bus, want)

	got, ok := n.Status(context.Background())
	if !ok || got != want {
		t.Fatalf("status mismatch: ok=%v got=%+v want=%+v", ok, got, want)
	}
}

func TestStatusStaleAfterFreshnessWindow(t *testing.T) {
	bus := simhal.New()
	n := New(candriver.New(bus, testDeviceType, testDeviceID))
	injectStatus(bus, grplmsg.Status{DistanceMM: 42})

	if _, ok := n.Status(context.Background()); !ok {
		t.Fatalf("expected a fresh status on first read")
	}
	n.lastAt = time.Now().Add(-(statusFreshness + time.Millisecond))
	if _, ok := n.Status(context.Background()); ok {
		t.Fatalf("expected status to be stale past the freshness window")
	}
}

func TestSetRangeSucceedsOnAck(t *testing.T) {
	bus := simhal.New()
	n := New(candriver.New(bus, testDeviceType, testDeviceID))

	go func() {
		time.Sleep(10 * time.Millisecond)
		id := can.Fields{DeviceType: testDeviceType, APIClass: grplmsg.SetRange{}.APIClass(), APIIndex: grplmsg.SetRange{}.APIIndex(), DeviceID: testDeviceID, AckFlag: true}
		bus.Inject(can.Encode(id), grplmsg.Encode(grplmsg.Ack{Class: id.APIClass, Index: id.APIIndex, OK: true}), 0)
	}()

	if err := n.SetRange(context.Background(), true); err != nil {
		t.Fatalf("set range: %v", err)
	}
}

func TestSetRangeFailsOnNack(t *testing.T) {
	bus := simhal.New()
	n := New(candriver.New(bus, testDeviceType, testDeviceID))

	go func() {
		time.Sleep(10 * time.Millisecond)
		id := can.Fields{DeviceType: testDeviceType, APIClass: grplmsg.SetRange{}.APIClass(), APIIndex: grplmsg.SetRange{}.APIIndex(), DeviceID: testDeviceID, AckFlag: true}
		bus.Inject(can.Encode(id), grplmsg.Encode(grplmsg.Ack{Class: id.APIClass, Index: id.APIIndex, OK: false}), 0)
	}()

	if err := n.SetRange(context.Background(), true); err == nil {
		t.Fatalf("expected an error for a negative ack")
	}
}

func TestMockImplementsDevice(t *testing.T) {
	var m Mock
	m.ScriptStatus(grplmsg.Status{DistanceMM: 7})
	st, ok := m.Status(context.Background())
	if !ok || st.DistanceMM != 7 {
		t.Fatalf("mock status mismatch: %+v ok=%v", st, ok)
	}
	if err := m.SetRange(context.Background(), true); err != nil {
		t.Fatalf("mock set range: %v", err)
	}
	if m.LastRange == nil || !*m.LastRange {
		t.Fatalf("mock did not record SetRange argument")
	}
}
