package fragment

import (
	"testing"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
)

func fields() can.Fields {
	return can.Fields{DeviceType: 0x0A, APIClass: 0, APIIndex: 0, DeviceID: 5}
}

func feedAll(t *testing.T, rx *Rx, now time.Time, sender uint8, f can.Fields, frames []OutFrame) (can.Fields, []byte, bool) {
	t.Helper()
	var id can.Fields
	var payload []byte
	var ok bool
	for _, fr := range frames {
		ff := f.WithFragmentFlag(fr.FragmentFlag)
		id, payload, ok = rx.Receive(now, sender, ff, fr.Bytes)
	}
	return id, payload, ok
}

func TestSplitSingleFrameDoesNotConsumeCounter(t *testing.T) {
	tx := NewTx()
	frames := tx.Split([]byte{1, 2, 3})
	if len(frames) != 1 || frames[0].FragmentFlag {
		t.Fatalf("expected one non-fragmented frame, got %+v", frames)
	}
	if tx.next != 0 {
		t.Fatalf("counter should not advance for single-frame payload")
	}
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	tx := NewTx()
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := tx.Split(payload)
	if len(frames) != 4 { // 20 bytes / 6 per fragment = 4 fragments (6,6,6,2)
		t.Fatalf("expected 4 fragments, got %d", len(frames))
	}

	rx := NewRx(DefaultStaleness, DefaultCapacityPerSender)
	f := fields()
	gotID, gotPayload, ok := feedAll(t, rx, time.Unix(0, 0), 5, f, frames)
	if !ok {
		t.Fatalf("expected completion after last fragment")
	}
	if gotID.FragmentFlag {
		t.Fatalf("base id must have fragment-flag cleared")
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("reassembled payload mismatch: got %v want %v", gotPayload, payload)
	}
	if rx.Pending() != 0 {
		t.Fatalf("entry must be deleted after completion")
	}
}

func TestOutOfOrderFragmentsNeverComplete(t *testing.T) {
	tx := NewTx()
	payload := make([]byte, 20)
	frames := tx.Split(payload)

	rx := NewRx(DefaultStaleness, DefaultCapacityPerSender)
	f := fields()
	now := time.Unix(0, 0)

	// Feed seq 0, then seq 2 (skipping seq 1) — must discard, never complete.
	rx.Receive(now, 5, f.WithFragmentFlag(true), frames[0].Bytes)
	_, _, ok := rx.Receive(now, 5, f.WithFragmentFlag(true), frames[2].Bytes)
	if ok {
		t.Fatalf("out-of-order fragment must not complete a message")
	}
	// Feeding the remaining fragments in order from here must also not
	// spuriously complete, since the entry was discarded.
	for _, fr := range frames[3:] {
		_, _, ok := rx.Receive(now, 5, f.WithFragmentFlag(true), fr.Bytes)
		if ok {
			t.Fatalf("entry discarded by out-of-order arrival must not resurrect")
		}
	}
	// After the next eviction sweep (timestamp far enough ahead), nothing lingers.
	rx.Receive(now.Add(2*DefaultStaleness), 5, f.WithFragmentFlag(false), []byte{0})
	if rx.Pending() != 0 {
		t.Fatalf("expected no pending entries after eviction sweep, got %d", rx.Pending())
	}
}

func TestStaleEntryEvictedAfter1000ms(t *testing.T) {
	tx := NewTx()
	payload := make([]byte, 20)
	frames := tx.Split(payload)

	rx := NewRx(DefaultStaleness, DefaultCapacityPerSender)
	f := fields()
	t0 := time.Unix(0, 0)

	// Only the first fragment ever arrives.
	rx.Receive(t0, 5, f.WithFragmentFlag(true), frames[0].Bytes)
	if rx.Pending() != 1 {
		t.Fatalf("expected one pending partial")
	}

	// A later, unrelated non-fragmented frame arrives past the staleness
	// window; the sweep that precedes every receive must evict it.
	rx.Receive(t0.Add(1100*time.Millisecond), 9, f.WithFragmentFlag(false), []byte{0xAA})
	if rx.Pending() != 0 {
		t.Fatalf("expected stale partial evicted, got %d pending", rx.Pending())
	}
}

func TestCapacityBoundLRUEvicts(t *testing.T) {
	rx := NewRx(DefaultStaleness, 2)
	f := fields()
	now := time.Unix(0, 0)

	// Open three concurrent partials (fragment-ids 0,1,2) for the same
	// sender with capacity 2; the oldest must be evicted.
	for fragID := uint8(0); fragID < 3; fragID++ {
		now = now.Add(time.Millisecond)
		hdr := []byte{fragID, 0x00, 0x11, 0x22} // seq 0, not last
		rx.Receive(now, 5, f.WithFragmentFlag(true), hdr)
	}
	if rx.Pending() > 2 {
		t.Fatalf("expected capacity bound of 2 enforced, got %d pending", rx.Pending())
	}
}

func TestNonFragmentedFrameYieldsImmediately(t *testing.T) {
	rx := NewRx(DefaultStaleness, DefaultCapacityPerSender)
	f := fields()
	id, payload, ok := rx.Receive(time.Unix(0, 0), 5, f, []byte{1, 2, 3})
	if !ok {
		t.Fatalf("expected immediate completion for non-fragmented frame")
	}
	if id != f {
		t.Fatalf("expected identity fields for non-fragmented frame")
	}
	if string(payload) != "\x01\x02\x03" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
