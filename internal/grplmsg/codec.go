package grplmsg

import "fmt"

// Selector identifies which Variant a payload decodes as. It mirrors the
// identifier fields relevant to message routing (internal/can.Fields),
// kept separate so this package never imports internal/can — the codec
// stays pure and dependency-free per spec.md §4.2.
type Selector struct {
	DeviceType uint8
	APIClass   uint8
	APIIndex   uint8
	Ack        bool
}

// ErrUnknownSelector is returned by Decode when no variant is registered
// for the given (device type, api class, api index, ack) tuple.
type ErrUnknownSelector struct{ Sel Selector }

func (e *ErrUnknownSelector) Error() string {
	return fmt.Sprintf("grplmsg: no variant for selector %+v", e.Sel)
}

// Decode parses payload according to sel, dispatching to the right
// device family and request/ack shape. It is pure: no state, no I/O.
func Decode(sel Selector, payload []byte) (Variant, error) {
	v := NewBitView(payload)
	switch sel.DeviceType {
	case DeviceTypeDistanceSensor:
		return decodeDistanceSensor(sel, v)
	case DeviceTypePowerDistributionMod:
		return decodePowerModule(sel, v)
	default:
		return nil, &ErrUnknownSelector{Sel: sel}
	}
}

func decodeDistanceSensor(sel Selector, v *BitView) (Variant, error) {
	if sel.Ack {
		return DecodeAck(sel.APIClass, sel.APIIndex, v)
	}
	switch {
	case sel.APIClass == lcClassStatus && sel.APIIndex == lcIndexStatus:
		return DecodeStatus(v)
	case sel.APIClass == lcClassConfig && sel.APIIndex == lcIndexSetRange:
		return DecodeSetRange(v)
	case sel.APIClass == lcClassConfig && sel.APIIndex == lcIndexSetTiming:
		return DecodeSetTimingBudget(v)
	case sel.APIClass == lcClassConfig && sel.APIIndex == lcIndexSetRoi:
		return DecodeSetRoi(v)
	default:
		return nil, &ErrUnknownSelector{Sel: sel}
	}
}

func decodePowerModule(sel Selector, v *BitView) (Variant, error) {
	if sel.Ack {
		return DecodeAck(sel.APIClass, sel.APIIndex, v)
	}
	switch {
	case sel.APIClass == pmClassStatus && sel.APIIndex == pmIndexStatus:
		return DecodeStatusFrame(v)
	case sel.APIClass == pmClassConfig && sel.APIIndex == pmIndexSetSwitchable:
		return DecodeSetSwitchableChannel(v)
	case sel.APIClass == pmClassConfig && sel.APIIndex == pmIndexSetAdjustable:
		return DecodeSetAdjustableChannel(v)
	default:
		return nil, &ErrUnknownSelector{Sel: sel}
	}
}
