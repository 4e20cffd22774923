// Package fragment implements the split/reassembly protocol that carries
// an oversize vendor message over a run of fixed 8-byte CAN frames
// (spec.md §4.3). The engine is split into a transmit half (Tx, holds
// only the outgoing fragment-id counter) and a receive half (Rx, holds
// the per-sender reassembly table) — the same split the teacher repo
// uses between serial/socketcan TXWriter and their RX decode loops, here
// applied to the driver's single fragment engine instance instead of two
// separate backends.
package fragment

// chunkSize is the payload capacity of one fragment frame: 8 CAN bytes
// minus the 2-byte (fragment_id, seq|is_last) header.
const chunkSize = 6

// OutFrame is one physical frame's worth of bytes ready to hand to the
// HAL, plus whether the fragment-flag bit belongs set on its identifier.
type OutFrame struct {
	FragmentFlag bool
	Bytes        []byte // <=8 bytes
}

// Tx holds the outgoing fragment-id counter for one driver instance. It
// is not safe for concurrent use: the engine is single-producer, and the
// caller serializes Split calls and emits all of one message's frames
// before starting the next.
type Tx struct {
	next uint8
}

// NewTx returns a Tx with its counter starting at 0.
func NewTx() *Tx { return &Tx{} }

// Split packages payload into one or more OutFrames. A payload that fits
// in one frame is emitted unfragmented and the fragment-id counter is
// NOT consumed, per spec.md §4.3.
func (t *Tx) Split(payload []byte) []OutFrame {
	if len(payload) <= 8 {
		return []OutFrame{{FragmentFlag: false, Bytes: payload}}
	}
	id := t.next
	t.next++

	var frames []OutFrame
	for i, seq := 0, uint8(0); i < len(payload); i, seq = i+chunkSize, seq+1 {
		end := i + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		isLast := end == len(payload)
		hdr := seq
		if isLast {
			hdr |= 0x80
		}
		buf := make([]byte, 0, 2+chunkSize)
		buf = append(buf, id, hdr)
		buf = append(buf, payload[i:end]...)
		frames = append(frames, OutFrame{FragmentFlag: true, Bytes: buf})
	}
	return frames
}
