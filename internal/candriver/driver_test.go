package candriver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/fragment"
	"github.com/grapple-robotics/grplcan-go/internal/grplmsg"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/simhal"
)

const (
	testDeviceType = grplmsg.DeviceTypeDistanceSensor
	testDeviceID   = 0x05
)

func ackFrame(ctx context.Context, b *simhal.Backend, msg grplmsg.Variant, ok bool) {
	id := can.Fields{
		DeviceType: testDeviceType,
		APIClass:   msg.APIClass(),
		APIIndex:   msg.APIIndex(),
		DeviceID:   testDeviceID,
		AckFlag:    true,
	}
	ack := grplmsg.Ack{Class: msg.APIClass(), Index: msg.APIIndex(), OK: ok}
	b.Inject(can.Encode(id), grplmsg.Encode(ack), 10)
	_ = ctx
}

func TestSingleFrameRequestReply(t *testing.T) {
	bus := simhal.New()
	d := New(bus, testDeviceType, testDeviceID)
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		ackFrame(ctx, bus, grplmsg.SetRange{Long: true}, true)
	}()

	reply, err := d.Request(ctx, grplmsg.SetRange{Long: true}, 200*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ack, ok := reply.(grplmsg.Ack)
	if !ok || !ack.OK {
		t.Fatalf("expected successful ack, got %+v", reply)
	}
}

func TestTimeoutThenSuccessOnRetry(t *testing.T) {
	bus := simhal.New()
	d := New(bus, testDeviceType, testDeviceID)
	ctx := context.Background()

	go func() {
		// Miss the first 150ms window; land inside the second.
		time.Sleep(180 * time.Millisecond)
		ackFrame(ctx, bus, grplmsg.SetRange{Long: true}, true)
	}()

	start := time.Now()
	reply, err := d.Request(ctx, grplmsg.SetRange{Long: true}, 150*time.Millisecond, 1)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if elapsed < 150*time.Millisecond {
		t.Fatalf("expected the retry window to have been used, elapsed=%s", elapsed)
	}
	if ack, ok := reply.(grplmsg.Ack); !ok || !ack.OK {
		t.Fatalf("expected successful ack, got %+v", reply)
	}
}

func TestTimeoutWithNoRetriesFails(t *testing.T) {
	bus := simhal.New()
	d := New(bus, testDeviceType, testDeviceID)
	ctx := context.Background()

	_, err := d.Request(ctx, grplmsg.SetRange{Long: true}, 30*time.Millisecond, 0)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestSendRejectsInvalidMessage(t *testing.T) {
	bus := simhal.New()
	d := New(bus, testDeviceType, testDeviceID)
	ctx := context.Background()

	err := d.Send(ctx, grplmsg.SetTimingBudget{BudgetMS: 34})
	if err == nil {
		t.Fatalf("expected validation error for illegal timing budget")
	}
}

// faultyAdapter wraps a simhal.Backend and fails the first N PollFrame
// calls, delegating to the backend otherwise. It stands in for a
// flaky hal.Adapter to exercise the PollFrame-error path, which
// simhal.Backend itself has no hook to inject.
type faultyAdapter struct {
	*simhal.Backend
	failures int
}

func (f *faultyAdapter) PollFrame(ctx context.Context, filter hal.Filter) (hal.TimestampedFrame, bool, error) {
	if f.failures > 0 {
		f.failures--
		return hal.TimestampedFrame{}, false, errors.New("simulated hal read failure")
	}
	return f.Backend.PollFrame(ctx, filter)
}

func TestSpinSwallowsPollFrameError(t *testing.T) {
	bus := simhal.New()
	adapter := &faultyAdapter{Backend: bus, failures: 1}
	d := New(adapter, testDeviceType, testDeviceID)
	ctx := context.Background()

	var calls int
	err := d.Spin(ctx, func(id can.Fields, msg grplmsg.Variant) bool {
		calls++
		return true
	})
	if err != nil {
		t.Fatalf("expected Spin to swallow the PollFrame error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no frames delivered, got %d", calls)
	}
}

func TestRequestSucceedsDespiteIntermittentPollFrameError(t *testing.T) {
	bus := simhal.New()
	adapter := &faultyAdapter{Backend: bus, failures: 1}
	d := New(adapter, testDeviceType, testDeviceID)
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		ackFrame(ctx, bus, grplmsg.SetRange{Long: true}, true)
	}()

	reply, err := d.Request(ctx, grplmsg.SetRange{Long: true}, 200*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("expected request to succeed despite a transient PollFrame error, got %v", err)
	}
	ack, ok := reply.(grplmsg.Ack)
	if !ok || !ack.OK {
		t.Fatalf("expected successful ack, got %+v", reply)
	}
}

func TestSpinReassemblesFragmentedStatus(t *testing.T) {
	bus := simhal.New()
	d := New(bus, testDeviceType, testDeviceID)
	ctx := context.Background()

	status := grplmsg.Status{
		StatusCode: 0,
		DistanceMM: 1234,
		Ambient:    56,
		Long:       true,
		BudgetMS:   33,
		Roi:        grplmsg.Roi{X: 1, Y: 2, W: 3, H: 4},
	}
	payload := grplmsg.Encode(status)

	tx := fragment.NewTx()
	frames := tx.Split(payload)
	if len(frames) < 2 {
		t.Fatalf("expected the status payload to require fragmentation, got %d frame(s)", len(frames))
	}

	base := can.Fields{DeviceType: testDeviceType, APIClass: status.APIClass(), APIIndex: status.APIIndex(), DeviceID: testDeviceID}
	for _, fr := range frames {
		id := can.Encode(base.WithFragmentFlag(fr.FragmentFlag))
		bus.Inject(id, fr.Bytes, 0)
	}

	var got grplmsg.Variant
	err := d.Spin(ctx, func(id can.Fields, msg grplmsg.Variant) bool {
		got = msg
		return true
	})
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	gotStatus, ok := got.(grplmsg.Status)
	if !ok || gotStatus != status {
		t.Fatalf("reassembled status mismatch: got %+v want %+v", got, status)
	}
}
