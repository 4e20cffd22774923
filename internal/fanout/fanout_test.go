package fanout

import (
	"testing"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/hal"
)

func TestHubBroadcastDropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan hal.TimestampedFrame, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(hal.TimestampedFrame{ID: 0x123})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHubBroadcastDropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan hal.TimestampedFrame, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan hal.TimestampedFrame, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	h.Broadcast(hal.TimestampedFrame{ID: 0x1})
	for i := 0; i < 10; i++ {
		h.Broadcast(hal.TimestampedFrame{ID: 0x2})
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any frames while slow was backpressured")
	}
}

func TestHubBroadcastHonorsFilter(t *testing.T) {
	h := New()
	// Only wants frames whose id has bit 0x10 set.
	narrow := &Client{Out: make(chan hal.TimestampedFrame, 4), Closed: make(chan struct{}), Filter: hal.Filter{ID: 0x10, Mask: 0x10}}
	wide := &Client{Out: make(chan hal.TimestampedFrame, 4), Closed: make(chan struct{}), Filter: hal.MatchAll}
	h.Add(narrow)
	h.Add(wide)
	defer h.Remove(narrow)
	defer h.Remove(wide)

	h.Broadcast(hal.TimestampedFrame{ID: 0x01})
	if len(narrow.Out) != 0 {
		t.Fatalf("narrow subscriber should not have matched id 0x01")
	}
	if len(wide.Out) != 1 {
		t.Fatalf("wide subscriber should have received every frame")
	}

	h.Broadcast(hal.TimestampedFrame{ID: 0x10})
	if len(narrow.Out) != 1 {
		t.Fatalf("narrow subscriber should have matched id 0x10")
	}
}

func TestHubRemoveIsIdempotent(t *testing.T) {
	h := New()
	c := &Client{Out: make(chan hal.TimestampedFrame, 1), Closed: make(chan struct{})}
	h.Add(c)
	h.Remove(c)
	h.Remove(c)
	if h.Count() != 0 {
		t.Fatalf("expected no clients after removal")
	}
}
