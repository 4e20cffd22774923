package grplmsg

import (
	"math/rand"
	"testing"
)

func TestLaserCanStatusRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		s := Status{
			StatusCode: uint8(rng.Intn(256)),
			DistanceMM: uint16(rng.Intn(1 << 16)),
			Ambient:    uint16(rng.Intn(1 << 16)),
			Long:       rng.Intn(2) == 1,
			BudgetMS:   uint8(rng.Intn(256)),
			Roi:        Roi{X: uint8(rng.Intn(16)), Y: uint8(rng.Intn(16)), W: uint8(rng.Intn(16)), H: uint8(rng.Intn(16))},
		}
		payload := Encode(s)
		sel := Selector{DeviceType: DeviceTypeDistanceSensor, APIClass: s.APIClass(), APIIndex: s.APIIndex()}
		got, err := Decode(sel, payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.(Status) != s {
			t.Fatalf("round trip mismatch: in=%+v out=%+v", s, got)
		}
	}
}

func TestSetRoiValidateRejectsOutOfRangeNibble(t *testing.T) {
	bad := SetRoi{Roi: Roi{X: 16, Y: 0, W: 0, H: 0}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected range error for x=16")
	}
}

func TestSetTimingBudgetValidate(t *testing.T) {
	if err := (SetTimingBudget{BudgetMS: 33}).Validate(); err != nil {
		t.Fatalf("33ms should be legal: %v", err)
	}
	if err := (SetTimingBudget{BudgetMS: 34}).Validate(); err == nil {
		t.Fatalf("34ms should be rejected")
	}
}

func TestAckRoundTrip(t *testing.T) {
	a := Ack{Class: lcClassConfig, Index: lcIndexSetRange, OK: true}
	payload := Encode(a)
	sel := Selector{DeviceType: DeviceTypeDistanceSensor, APIClass: a.Class, APIIndex: a.Index, Ack: true}
	got, err := Decode(sel, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.(Ack).OK != true {
		t.Fatalf("expected OK ack")
	}
}

func TestMitocandriaStatusFrameRoundTrip(t *testing.T) {
	sf := StatusFrame{Channels: []ChannelStatus{
		{Kind: ChannelNonSwitchable, CurrentMA: 100},
		{Kind: ChannelSwitchable, CurrentMA: 250, Enabled: true},
		{Kind: ChannelAdjustable, CurrentMA: 500, VoltageMV: 3300, VoltageSetMV: 3300, Enabled: true},
	}}
	payload := Encode(sf)
	sel := Selector{DeviceType: DeviceTypePowerDistributionMod, APIClass: sf.APIClass(), APIIndex: sf.APIIndex()}
	got, err := Decode(sel, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gotSF := got.(StatusFrame)
	if len(gotSF.Channels) != len(sf.Channels) {
		t.Fatalf("channel count mismatch")
	}
	for i := range sf.Channels {
		if gotSF.Channels[i] != sf.Channels[i] {
			t.Fatalf("channel %d mismatch: in=%+v out=%+v", i, sf.Channels[i], gotSF.Channels[i])
		}
	}
}

func TestSetAdjustableChannelRoundTrip(t *testing.T) {
	req := SetAdjustableChannel{Channel: 2, Enabled: true, VoltageMV: 3300}
	payload := Encode(req)
	sel := Selector{DeviceType: DeviceTypePowerDistributionMod, APIClass: req.APIClass(), APIIndex: req.APIIndex()}
	got, err := Decode(sel, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.(SetAdjustableChannel) != req {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", req, got)
	}
}

func TestUnknownSelectorErrors(t *testing.T) {
	_, err := Decode(Selector{DeviceType: 0xFF}, []byte{0})
	if err == nil {
		t.Fatalf("expected error for unknown device type")
	}
}
