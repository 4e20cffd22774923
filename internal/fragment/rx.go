package fragment

import (
	"sync"
	"time"

	"github.com/grapple-robotics/grplcan-go/internal/can"
)

// DefaultStaleness is the reassembly staleness cutoff from spec.md §3/§6.
const DefaultStaleness = 1000 * time.Millisecond

// DefaultCapacityPerSender bounds concurrent partials per sender before
// LRU eviction kicks in (spec.md §4.3: "K small, e.g. 8").
const DefaultCapacityPerSender = 8

type rxKey struct {
	sender     uint8
	fragmentID uint8
}

type entry struct {
	expectedSeq uint8
	buf         []byte
	firstSeen   time.Time
	lastTouch   time.Time
	baseFields  can.Fields
}

// Rx holds the per-sender reassembly table for one driver instance. It
// is safe for concurrent use, guarded by an internal mutex.
type Rx struct {
	mu        sync.Mutex
	entries   map[rxKey]*entry
	staleness time.Duration
	capacity  int
}

// NewRx returns an Rx with the given staleness cutoff and per-sender
// capacity bound.
func NewRx(staleness time.Duration, capacityPerSender int) *Rx {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if capacityPerSender <= 0 {
		capacityPerSender = DefaultCapacityPerSender
	}
	return &Rx{
		entries:   make(map[rxKey]*entry),
		staleness: staleness,
		capacity:  capacityPerSender,
	}
}

// Receive feeds one physical frame into the reassembler. fields is the
// frame's decoded arbitration identifier; payload is its raw CAN data
// (<=8 bytes). On completion of a whole message it returns the restored
// base identifier (fragment-flag cleared), the reassembled payload, and
// true. A non-fragmented frame always completes immediately. Any local
// fault — truncated header, out-of-order sequence, malformed envelope —
// returns ok=false and is otherwise silent, per spec.md §4.3/§7.
func (r *Rx) Receive(now time.Time, sender uint8, fields can.Fields, payload []byte) (can.Fields, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictStaleLocked(now)

	if !fields.FragmentFlag {
		return fields, payload, true
	}
	if len(payload) < 2 {
		return can.Fields{}, nil, false
	}

	fragID := payload[0]
	seqByte := payload[1]
	isLast := seqByte&0x80 != 0
	seq := seqByte & 0x7F
	chunk := payload[2:]
	key := rxKey{sender: sender, fragmentID: fragID}
	base := fields.WithFragmentFlag(false)

	if seq == 0 {
		r.evictOverflowLocked(sender, key)
		e := &entry{
			expectedSeq: 1,
			buf:         append([]byte(nil), chunk...),
			firstSeen:   now,
			lastTouch:   now,
			baseFields:  base,
		}
		if isLast {
			return e.baseFields, e.buf, true
		}
		r.entries[key] = e
		return can.Fields{}, nil, false
	}

	e, ok := r.entries[key]
	if !ok || e.expectedSeq != seq {
		delete(r.entries, key)
		return can.Fields{}, nil, false
	}
	e.buf = append(e.buf, chunk...)
	e.expectedSeq++
	e.lastTouch = now
	if isLast {
		delete(r.entries, key)
		return e.baseFields, e.buf, true
	}
	return can.Fields{}, nil, false
}

// evictStaleLocked removes every entry whose first fragment is older
// than r.staleness relative to now. Called before every receive step per
// spec.md §4.3.
func (r *Rx) evictStaleLocked(now time.Time) {
	for k, e := range r.entries {
		if now.Sub(e.firstSeen) > r.staleness {
			delete(r.entries, k)
		}
	}
}

// evictOverflowLocked ensures adding a fresh entry for sender won't push
// its concurrent-partial count past r.capacity, LRU-evicting the oldest
// (by lastTouch) entry for that sender if needed.
func (r *Rx) evictOverflowLocked(sender uint8, incoming rxKey) {
	var count int
	var oldestKey rxKey
	var oldestTouch time.Time
	first := true
	for k, e := range r.entries {
		if k.sender != sender {
			continue
		}
		count++
		if first || e.lastTouch.Before(oldestTouch) {
			oldestKey = k
			oldestTouch = e.lastTouch
			first = false
		}
	}
	if count >= r.capacity {
		delete(r.entries, oldestKey)
	}
	_ = incoming
}

// Pending reports the number of in-flight reassembly entries, for tests
// and metrics.
func (r *Rx) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
