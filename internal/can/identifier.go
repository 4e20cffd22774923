package can

import "fmt"

// Bit widths of the six arbitration-identifier fields. Their sum is 29,
// matching the invariant that every identifier produced by Encode is
// ≤ 29 significant bits.
const (
	deviceTypeBits  = 8
	fragmentFlagBit = 1
	ackFlagBit      = 1
	apiClassBits    = 6
	apiIndexBits    = 7
	deviceIDBits    = 6

	deviceIDMask    = 1<<deviceIDBits - 1
	apiIndexMask    = 1<<apiIndexBits - 1
	apiClassMask    = 1<<apiClassBits - 1
	deviceTypeMask  = 1<<deviceTypeBits - 1
	deviceIDShift   = 0
	apiIndexShift   = deviceIDShift + deviceIDBits
	apiClassShift   = apiIndexShift + apiIndexBits
	ackFlagShift    = apiClassShift + apiClassBits
	fragFlagShift   = ackFlagShift + ackFlagBit
	deviceTypeShift = fragFlagShift + fragmentFlagBit

	// IDMask masks the 29 significant bits of an encoded identifier.
	IDMask = 1<<(deviceTypeShift+deviceTypeBits) - 1
)

// Fields is the decomposed form of a 29-bit arbitration identifier.
type Fields struct {
	DeviceType   uint8
	FragmentFlag bool
	AckFlag      bool
	APIClass     uint8
	APIIndex     uint8
	DeviceID     uint8
}

// Encode packs f into a 29-bit-significant uint32. Out-of-range subfields
// are masked to their field width rather than erroring — range legality
// for application-level messages is Validate's job (internal/grplmsg),
// not the codec's.
func Encode(f Fields) uint32 {
	var id uint32
	id |= uint32(f.DeviceType&deviceTypeMask) << deviceTypeShift
	if f.FragmentFlag {
		id |= 1 << fragFlagShift
	}
	if f.AckFlag {
		id |= 1 << ackFlagShift
	}
	id |= uint32(f.APIClass&apiClassMask) << apiClassShift
	id |= uint32(f.APIIndex&apiIndexMask) << apiIndexShift
	id |= uint32(f.DeviceID&deviceIDMask) << deviceIDShift
	return id & IDMask
}

// Decode unpacks the 29 significant bits of id into Fields. Bits above
// IDMask are ignored so callers may pass a raw HAL identifier word
// (which may carry extra flag bits outside this scheme) directly.
func Decode(id uint32) Fields {
	id &= IDMask
	return Fields{
		DeviceType:   uint8((id >> deviceTypeShift) & deviceTypeMask),
		FragmentFlag: (id>>fragFlagShift)&1 != 0,
		AckFlag:      (id>>ackFlagShift)&1 != 0,
		APIClass:     uint8((id >> apiClassShift) & apiClassMask),
		APIIndex:     uint8((id >> apiIndexShift) & apiIndexMask),
		DeviceID:     uint8((id >> deviceIDShift) & deviceIDMask),
	}
}

// WithFragmentFlag returns a copy of f with FragmentFlag set to v.
func (f Fields) WithFragmentFlag(v bool) Fields { f.FragmentFlag = v; return f }

// WithAckFlag returns a copy of f with AckFlag set to v.
func (f Fields) WithAckFlag(v bool) Fields { f.AckFlag = v; return f }

// Matches reports whether id (after masking to 29 bits) is identical to
// Encode(f) — used by request/reply pairing, which is identity on every
// field except AckFlag.
func (f Fields) Matches(id uint32) bool { return Encode(f) == (id & IDMask) }

// DeviceFilterMask returns the (id, mask) pair that matches every frame
// addressed to (deviceType, deviceID) regardless of fragment-flag,
// ack-flag, api-class, or api-index — the filter a CAN driver installs
// once for its whole lifetime (spec.md §4.4's spin loop sees requests
// and replies, fragmented and not, through the same filter).
func DeviceFilterMask(deviceType, deviceID uint8) (id uint32, mask uint32) {
	id = Encode(Fields{DeviceType: deviceType, DeviceID: deviceID})
	mask = uint32(deviceTypeMask<<deviceTypeShift | deviceIDMask<<deviceIDShift)
	return id, mask
}

func (f Fields) String() string {
	return fmt.Sprintf("{type=0x%02X frag=%v ack=%v class=%d index=%d id=0x%02X}",
		f.DeviceType, f.FragmentFlag, f.AckFlag, f.APIClass, f.APIIndex, f.DeviceID)
}
