// Package candriver implements the per-device CAN driver of spec.md
// §4.4: spin/send/request over one hal.Adapter, one fragment engine,
// and the message codec. Grounded directly on
// original_source/grapplefrcdriver/src/can.rs's GrappleCanDriver (same
// spin-drains-until-empty loop, same send-validates-then-emits-frames
// shape, same request-recurses-on-retry poll loop with a 5ms sleep
// because the HAL offers no interrupt/event primitive) — rewritten in
// Go as an explicit poll-and-sleep method set instead of Rust's
// FnMut-consumer closures.
package candriver

import (
	"context"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/fragment"
	"github.com/grapple-robotics/grplcan-go/internal/grplerr"
	"github.com/grapple-robotics/grplcan-go/internal/grplmsg"
	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

// pollInterval is request's inter-poll sleep (spec.md §4.4/§6): an
// explicit concession that the HAL offers no interrupt/event
// primitive, not a tunable.
const pollInterval = 5 * time.Millisecond

// Driver owns one fragment engine and addresses one physical
// peripheral identified by (deviceType, deviceID). It is not safe for
// concurrent use by multiple goroutines without external
// synchronization (spec.md §5: "single-threaded, caller-driven").
type Driver struct {
	adapter    hal.Adapter
	deviceType uint8
	deviceID   uint8
	filterID   uint32
	filterMask uint32
	tx         *fragment.Tx
	rx         *fragment.Rx
}

// New returns a Driver for (deviceType, deviceID) over adapter.
func New(adapter hal.Adapter, deviceType, deviceID uint8) *Driver {
	id, mask := can.DeviceFilterMask(deviceType, deviceID)
	return &Driver{
		adapter:    adapter,
		deviceType: deviceType,
		deviceID:   deviceID,
		filterID:   id,
		filterMask: mask,
		tx:         fragment.NewTx(),
		rx:         fragment.NewRx(fragment.DefaultStaleness, fragment.DefaultCapacityPerSender),
	}
}

// Consumer is invoked once per reassembled message. Returning false
// stops Spin early.
type Consumer func(id can.Fields, msg grplmsg.Variant) bool

// Spin drains the HAL until the filter yields no more frames, a
// PollFrame call itself errors, or consumer returns false. A PollFrame
// error is a local fault exactly like a parse error or a discarded
// fragment (spec.md §4.3/§7, original_source/grapplefrcdriver/src/
// can.rs's spin() treating a HAL read error as a silent break): it is
// counted in metrics and ends the spin, but is never surfaced to
// consumer or caller.
func (d *Driver) Spin(ctx context.Context, consumer Consumer) error {
	filter := hal.Filter{ID: d.filterID, Mask: d.filterMask}
	for {
		frame, ok, err := d.adapter.PollFrame(ctx, filter)
		if err != nil {
			metrics.IncError(metrics.ErrHal)
			return nil
		}
		if !ok {
			return nil
		}

		fields := can.Decode(frame.ID)
		now := time.Now()
		baseFields, payload, complete := d.rx.Receive(now, fields.DeviceID, fields, frame.Data)
		metrics.SetFragmentPending(d.rx.Pending())
		if !complete {
			continue
		}
		if fields.FragmentFlag {
			metrics.IncFragmentReassembled()
		}

		sel := grplmsg.Selector{
			DeviceType: baseFields.DeviceType,
			APIClass:   baseFields.APIClass,
			APIIndex:   baseFields.APIIndex,
			Ack:        baseFields.AckFlag,
		}
		msg, err := grplmsg.Decode(sel, payload)
		if err != nil {
			metrics.IncMalformed()
			continue
		}

		if !consumer(baseFields, msg) {
			return nil
		}
	}
}

// Send validates msg's field ranges, splits it across one or more
// frames via the transmit half of the fragment engine, and emits each
// with the HAL's "no repeat" period flag.
func (d *Driver) Send(ctx context.Context, msg grplmsg.Variant) error {
	if err := msg.Validate(); err != nil {
		return grplerr.Wrap(grplerr.ParameterOutOfBounds, "message failed validation", err)
	}

	base := can.Fields{
		DeviceType: d.deviceType,
		APIClass:   msg.APIClass(),
		APIIndex:   msg.APIIndex(),
		DeviceID:   d.deviceID,
	}
	payload := grplmsg.Encode(msg)
	frames := d.tx.Split(payload)

	for _, fr := range frames {
		id := can.Encode(base.WithFragmentFlag(fr.FragmentFlag))
		if err := d.adapter.SendFrame(ctx, id, fr.Bytes, hal.NoRepeat); err != nil {
			return grplerr.HalErrorw("send_frame", err)
		}
	}
	return nil
}

// Request sends msg and waits up to timeout for the first reply whose
// identifier matches msg's request identity with the ack-flag set,
// polling every pollInterval. On expiry it recurses with retries-1;
// once retries is exhausted it fails with a Timeout error.
func (d *Driver) Request(ctx context.Context, msg grplmsg.Variant, timeout time.Duration, retries int) (grplmsg.Variant, error) {
	metrics.IncRequestAttempt()
	if err := d.Send(ctx, msg); err != nil {
		return nil, err
	}

	replyID := can.Fields{
		DeviceType: d.deviceType,
		APIClass:   msg.APIClass(),
		APIIndex:   msg.APIIndex(),
		DeviceID:   d.deviceID,
		AckFlag:    true,
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var reply grplmsg.Variant
		// Spin's error is always a swallowed local fault (see Spin's
		// doc comment); Request relies solely on its own timeout/retry
		// budget, never on propagating what happened inside a poll.
		_ = d.Spin(ctx, func(id can.Fields, msg grplmsg.Variant) bool {
			if id == replyID {
				reply = msg
				return false
			}
			return true
		})
		if reply != nil {
			return reply, nil
		}

		select {
		case <-ctx.Done():
			return nil, grplerr.Wrap(grplerr.Timeout, "request cancelled", ctx.Err())
		case <-time.After(pollInterval):
		}
	}

	if retries > 0 {
		metrics.IncRequestRetry()
		return d.Request(ctx, msg, timeout, retries-1)
	}
	metrics.IncRequestTimeout()
	return nil, grplerr.Timeoutf(
		"CAN request timed out for device 0x%02X (type 0x%02X): is it plugged in and the firmware up to date?",
		d.deviceID, d.deviceType)
}
