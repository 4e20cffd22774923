package serialhal

import (
	"bytes"
	"encoding/binary"

	"github.com/grapple-robotics/grplcan-go/internal/can"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

// encodeFrame builds a UART frame: [0x2D, 0xD4, len+1, id(4), data..., checksum],
// where len = 4 + len(data) (id plus payload bytes) and
// checksum = (len+1) + 0x2D + sum(id bytes) + sum(data bytes) (mod 256).
// Identical framing to the teacher's serial.Codec.Encode, adapted to
// this module's plain 29-bit identifier (no SocketCAN EFF-flag
// bit-masking, since this module's ids never carry one).
func encodeFrame(fr can.Frame) []byte {
	n := int(fr.Len)
	tab := make([]byte, 4+n) // ID(4) + PAYLOAD(0..8)
	tab[0] = byte(fr.CANID >> 24)
	tab[1] = byte(fr.CANID >> 16)
	tab[2] = byte(fr.CANID >> 8)
	tab[3] = byte(fr.CANID)
	copy(tab[4:], fr.Data[:n])
	return uartWrap(tab)
}

func uartWrap(data []byte) []byte {
	n := len(data)
	out := make([]byte, n+4)
	out[0] = 0x2D
	out[1] = 0xD4
	out[2] = byte(n + 1)
	sum := out[2] + 0x2D
	for i, b := range data {
		out[3+i] = b
		sum += b
	}
	out[3+n] = sum
	return out
}

// decodeStream drains every complete, checksummed UART frame
// currently buffered in acc and invokes onFrame for each, advancing
// acc past consumed (or discarded, on resync) bytes. Mirrors the
// teacher's serial.Codec.DecodeStream preamble-scan/length/checksum
// state machine exactly, generalized to this module's frame type.
func decodeStream(acc *bytes.Buffer, onFrame func(can.Frame)) {
	const (
		pre0  = 0x2D
		pre1  = 0xD4
		minLn = 4 + 0 + 1 // ID(4) + PAYLOAD(0) + checksum(1)
		maxLn = 4 + 8 + 1 // ID(4) + PAYLOAD(8) + checksum(1)
	)
	header := []byte{pre0, pre1}

	for {
		compactBuffer(acc)
		data := acc.Bytes()
		if len(data) < 3 {
			return
		}

		i := bytes.Index(data, header)
		if i < 0 {
			if acc.Len() > 1 {
				last := data[len(data)-1]
				acc.Reset()
				_ = acc.WriteByte(last)
			}
			return
		}
		if i > 0 {
			acc.Next(i)
			continue
		}

		if len(data) < 4 {
			return
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			acc.Next(1)
			continue
		}

		req := 3 + ln
		if len(data) < req {
			return
		}

		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			acc.Next(1)
			continue
		}

		var fr can.Frame
		fr.CANID = binary.BigEndian.Uint32(data[3:7])
		payload := data[7 : req-1]
		fr.Len = uint8(len(payload))
		copy(fr.Data[:], payload)
		onFrame(fr)
		acc.Next(req)
	}
}

// compactBuffer reclaims consumed prefix capacity when the unread
// portion has shrunk well below the buffer's backing capacity.
func compactBuffer(b *bytes.Buffer) {
	data := b.Bytes()
	if len(data) < 1024 {
		return
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := append([]byte(nil), data...)
		b.Reset()
		_, _ = b.Write(clone)
	}
}
