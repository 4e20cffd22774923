package grplmsg

import "fmt"

// Device-type tags carried in the arbitration identifier's device_type
// field. Stable numeric discriminants — never reordered.
const (
	DeviceTypeDistanceSensor       uint8 = 0x0A
	DeviceTypePowerDistributionMod uint8 = 0x0B
)

// ErrRangeViolation is returned by Validate when a field is out of its
// legal range.
type ErrRangeViolation struct {
	Field string
	Value int
}

func (e *ErrRangeViolation) Error() string {
	return fmt.Sprintf("grplmsg: field %q out of range (value=%d)", e.Field, e.Value)
}

// Variant is any vendor message payload: a unit of (device family, inner
// kind) with a stable (api-class, api-index) pair for routing, and pure
// encode/validate behavior. No variant ever performs I/O.
type Variant interface {
	APIClass() uint8
	APIIndex() uint8
	EncodePayload(w *BitWriter)
	Validate() error
}

// Encode serializes v to its bit-packed payload form. It does not call
// Validate — callers that need range-checked transmission call Validate
// first (internal/candriver.Driver.Send does this).
func Encode(v Variant) []byte {
	w := NewBitWriter()
	v.EncodePayload(w)
	return w.Bytes()
}
