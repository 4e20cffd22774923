package grplmsg

// LaserCAN (distance sensor) message family. API layout:
//
//	class 0, index 0 — Status               (device -> host, unsolicited)
//	class 1, index 0 — SetRange              request / ack
//	class 1, index 1 — SetTimingBudget       request / ack
//	class 1, index 2 — SetRoi                request / ack
const (
	lcClassStatus = 0
	lcClassConfig = 1

	lcIndexStatus       = 0
	lcIndexSetRange     = 0
	lcIndexSetTiming    = 1
	lcIndexSetRoi       = 2
)

// Roi is a region of interest expressed in 4-bit (0..15) grid units, as
// the sensor's firmware expects.
type Roi struct {
	X, Y, W, H uint8
}

func (r Roi) Validate() error {
	for name, v := range map[string]uint8{"x": r.X, "y": r.Y, "w": r.W, "h": r.H} {
		if v > 0x0F {
			return &ErrRangeViolation{Field: "roi." + name, Value: int(v)}
		}
	}
	return nil
}

// Status is the distance sensor's unsolicited measurement frame.
type Status struct {
	StatusCode uint8
	DistanceMM uint16
	Ambient    uint16
	Long       bool
	BudgetMS   uint8
	Roi        Roi
}

func (Status) APIClass() uint8 { return lcClassStatus }
func (Status) APIIndex() uint8 { return lcIndexStatus }

func (s Status) EncodePayload(w *BitWriter) {
	w.WriteByte(s.StatusCode)
	w.WriteUint16(s.DistanceMM)
	w.WriteUint16(s.Ambient)
	w.WriteBool(s.Long)
	w.WriteBits(0, 7) // pad to byte boundary
	w.WriteByte(s.BudgetMS)
	w.WriteBits(uint64(s.Roi.X), 4)
	w.WriteBits(uint64(s.Roi.Y), 4)
	w.WriteBits(uint64(s.Roi.W), 4)
	w.WriteBits(uint64(s.Roi.H), 4)
}

func (s Status) Validate() error { return s.Roi.Validate() }

// DecodeStatus parses a Status payload.
func DecodeStatus(v *BitView) (Status, error) {
	var s Status
	var err error
	if s.StatusCode, err = v.ReadByte(); err != nil {
		return s, err
	}
	if s.DistanceMM, err = v.ReadUint16(); err != nil {
		return s, err
	}
	if s.Ambient, err = v.ReadUint16(); err != nil {
		return s, err
	}
	if s.Long, err = v.ReadBool(); err != nil {
		return s, err
	}
	if _, err = v.ReadBits(7); err != nil {
		return s, err
	}
	if s.BudgetMS, err = v.ReadByte(); err != nil {
		return s, err
	}
	for _, f := range []*uint8{&s.Roi.X, &s.Roi.Y, &s.Roi.W, &s.Roi.H} {
		bits, err := v.ReadBits(4)
		if err != nil {
			return s, err
		}
		*f = uint8(bits)
	}
	return s, nil
}

// SetRange is the ranging-mode config request (true = long range).
type SetRange struct{ Long bool }

func (SetRange) APIClass() uint8 { return lcClassConfig }
func (SetRange) APIIndex() uint8 { return lcIndexSetRange }
func (s SetRange) EncodePayload(w *BitWriter) {
	w.WriteBool(s.Long)
	w.WriteBits(0, 7)
}
func (SetRange) Validate() error { return nil }

// DecodeSetRange parses a SetRange request payload.
func DecodeSetRange(v *BitView) (SetRange, error) {
	long, err := v.ReadBool()
	if err != nil {
		return SetRange{}, err
	}
	if _, err := v.ReadBits(7); err != nil {
		return SetRange{}, err
	}
	return SetRange{Long: long}, nil
}

// SetTimingBudget is the timing-budget config request, in milliseconds.
type SetTimingBudget struct{ BudgetMS uint8 }

func (SetTimingBudget) APIClass() uint8 { return lcClassConfig }
func (SetTimingBudget) APIIndex() uint8 { return lcIndexSetTiming }
func (s SetTimingBudget) EncodePayload(w *BitWriter) { w.WriteByte(s.BudgetMS) }
func (s SetTimingBudget) Validate() error {
	switch s.BudgetMS {
	case 20, 33, 50, 100:
		return nil
	default:
		return &ErrRangeViolation{Field: "budget_ms", Value: int(s.BudgetMS)}
	}
}

// DecodeSetTimingBudget parses a SetTimingBudget request payload.
func DecodeSetTimingBudget(v *BitView) (SetTimingBudget, error) {
	b, err := v.ReadByte()
	return SetTimingBudget{BudgetMS: b}, err
}

// SetRoi is the region-of-interest config request.
type SetRoi struct{ Roi Roi }

func (SetRoi) APIClass() uint8         { return lcClassConfig }
func (SetRoi) APIIndex() uint8         { return lcIndexSetRoi }
func (s SetRoi) EncodePayload(w *BitWriter) {
	w.WriteBits(uint64(s.Roi.X), 4)
	w.WriteBits(uint64(s.Roi.Y), 4)
	w.WriteBits(uint64(s.Roi.W), 4)
	w.WriteBits(uint64(s.Roi.H), 4)
}
func (s SetRoi) Validate() error { return s.Roi.Validate() }

// DecodeSetRoi parses a SetRoi request payload.
func DecodeSetRoi(v *BitView) (SetRoi, error) {
	var r Roi
	for _, f := range []*uint8{&r.X, &r.Y, &r.W, &r.H} {
		bits, err := v.ReadBits(4)
		if err != nil {
			return SetRoi{}, err
		}
		*f = uint8(bits)
	}
	return SetRoi{Roi: r}, nil
}

// Ack is the shared acknowledgement payload shape for every distance
// sensor config request: a single status byte, zero meaning success.
type Ack struct {
	Class, Index uint8
	OK           bool
}

func (a Ack) APIClass() uint8 { return a.Class }
func (a Ack) APIIndex() uint8 { return a.Index }
func (a Ack) EncodePayload(w *BitWriter) {
	if a.OK {
		w.WriteByte(0)
	} else {
		w.WriteByte(1)
	}
}
func (Ack) Validate() error { return nil }

// DecodeAck parses an Ack payload for the given (class, index).
func DecodeAck(class, index uint8, v *BitView) (Ack, error) {
	b, err := v.ReadByte()
	if err != nil {
		return Ack{}, err
	}
	return Ack{Class: class, Index: index, OK: b == 0}, nil
}
