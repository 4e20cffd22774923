package grplmsg

// MitoCANdria (switchable power-distribution module) message family.
//
//	class 0, index 0 — StatusFrame           (device -> host, unsolicited)
//	class 1, index 0 — SetSwitchableChannel  request / ack
//	class 1, index 1 — SetAdjustableChannel  request / ack
const (
	pmClassStatus = 0
	pmClassConfig = 1

	pmIndexStatus           = 0
	pmIndexSetSwitchable    = 0
	pmIndexSetAdjustable    = 1
)

// ChannelKind is the stable numeric discriminant for a power channel's
// capability class. Never reordered — it crosses the wire.
type ChannelKind uint8

const (
	ChannelNonSwitchable ChannelKind = 0
	ChannelSwitchable    ChannelKind = 1
	ChannelAdjustable    ChannelKind = 2
)

// ChannelStatus is one channel's entry inside a StatusFrame. Fields not
// meaningful for a given Kind are still transmitted and decoded (fixed
// record size); interpreting them by Kind is left to the reader of the
// record.
type ChannelStatus struct {
	Kind            ChannelKind
	CurrentMA       uint16
	VoltageMV       uint16 // adjustable only; fixed 5000 for the other kinds
	VoltageSetMV    uint16 // adjustable only
	Enabled         bool   // switchable/adjustable only; always true for non-switchable
}

const channelRecordBits = 8 + 16 + 16 + 16 + 8 // kind byte, current, voltage, setpoint, enabled(padded to byte)

func (c ChannelStatus) encode(w *BitWriter) {
	w.WriteByte(byte(c.Kind))
	w.WriteUint16(c.CurrentMA)
	w.WriteUint16(c.VoltageMV)
	w.WriteUint16(c.VoltageSetMV)
	w.WriteBool(c.Enabled)
	w.WriteBits(0, 7)
}

func decodeChannelStatus(v *BitView) (ChannelStatus, error) {
	var c ChannelStatus
	kind, err := v.ReadByte()
	if err != nil {
		return c, err
	}
	c.Kind = ChannelKind(kind)
	if c.CurrentMA, err = v.ReadUint16(); err != nil {
		return c, err
	}
	if c.VoltageMV, err = v.ReadUint16(); err != nil {
		return c, err
	}
	if c.VoltageSetMV, err = v.ReadUint16(); err != nil {
		return c, err
	}
	if c.Enabled, err = v.ReadBool(); err != nil {
		return c, err
	}
	if _, err = v.ReadBits(7); err != nil {
		return c, err
	}
	return c, nil
}

// StatusFrame carries the full set of channel statuses for one module.
type StatusFrame struct {
	Channels []ChannelStatus
}

func (StatusFrame) APIClass() uint8 { return pmClassStatus }
func (StatusFrame) APIIndex() uint8 { return pmIndexStatus }

func (s StatusFrame) EncodePayload(w *BitWriter) {
	w.WriteByte(uint8(len(s.Channels)))
	for _, c := range s.Channels {
		c.encode(w)
	}
}

func (StatusFrame) Validate() error { return nil }

// DecodeStatusFrame parses a StatusFrame payload.
func DecodeStatusFrame(v *BitView) (StatusFrame, error) {
	n, err := v.ReadByte()
	if err != nil {
		return StatusFrame{}, err
	}
	chans := make([]ChannelStatus, 0, n)
	for i := 0; i < int(n); i++ {
		c, err := decodeChannelStatus(v)
		if err != nil {
			return StatusFrame{}, err
		}
		chans = append(chans, c)
	}
	return StatusFrame{Channels: chans}, nil
}

// SetSwitchableChannel is the config request for a Switchable channel.
type SetSwitchableChannel struct {
	Channel uint8
	Enabled bool
}

func (SetSwitchableChannel) APIClass() uint8 { return pmClassConfig }
func (SetSwitchableChannel) APIIndex() uint8 { return pmIndexSetSwitchable }
func (s SetSwitchableChannel) EncodePayload(w *BitWriter) {
	w.WriteByte(s.Channel)
	w.WriteBool(s.Enabled)
	w.WriteBits(0, 7)
}
func (SetSwitchableChannel) Validate() error { return nil }

// DecodeSetSwitchableChannel parses a SetSwitchableChannel request.
func DecodeSetSwitchableChannel(v *BitView) (SetSwitchableChannel, error) {
	ch, err := v.ReadByte()
	if err != nil {
		return SetSwitchableChannel{}, err
	}
	en, err := v.ReadBool()
	if err != nil {
		return SetSwitchableChannel{}, err
	}
	if _, err := v.ReadBits(7); err != nil {
		return SetSwitchableChannel{}, err
	}
	return SetSwitchableChannel{Channel: ch, Enabled: en}, nil
}

// SetAdjustableChannel is the config request for an Adjustable channel.
// Voltage is in millivolts.
type SetAdjustableChannel struct {
	Channel   uint8
	Enabled   bool
	VoltageMV uint16
}

func (SetAdjustableChannel) APIClass() uint8 { return pmClassConfig }
func (SetAdjustableChannel) APIIndex() uint8 { return pmIndexSetAdjustable }
func (s SetAdjustableChannel) EncodePayload(w *BitWriter) {
	w.WriteByte(s.Channel)
	w.WriteBool(s.Enabled)
	w.WriteBits(0, 7)
	w.WriteUint16(s.VoltageMV)
}
func (s SetAdjustableChannel) Validate() error {
	const maxMV = 24000 // generous upper bound; firmware enforces the real ceiling
	if s.VoltageMV > maxMV {
		return &ErrRangeViolation{Field: "voltage_mv", Value: int(s.VoltageMV)}
	}
	return nil
}

// DecodeSetAdjustableChannel parses a SetAdjustableChannel request.
func DecodeSetAdjustableChannel(v *BitView) (SetAdjustableChannel, error) {
	ch, err := v.ReadByte()
	if err != nil {
		return SetAdjustableChannel{}, err
	}
	en, err := v.ReadBool()
	if err != nil {
		return SetAdjustableChannel{}, err
	}
	if _, err := v.ReadBits(7); err != nil {
		return SetAdjustableChannel{}, err
	}
	mv, err := v.ReadUint16()
	if err != nil {
		return SetAdjustableChannel{}, err
	}
	return SetAdjustableChannel{Channel: ch, Enabled: en, VoltageMV: mv}, nil
}
