package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/metrics"
)

// Codec implements the wire protocol spoken over the serial-attached CAN
// adapter: a preamble-delimited, length-prefixed, checksummed frame carrying
// one CanFrame per packet.
type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when the underlying buffer
// grows too large relative to unread bytes. Returns true if compaction
// occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// canUARTSend builds a UART frame: [0x2D, 0xD4, len+1, data..., checksum]
// checksum = (len+1) + 0x2D + sum(data) (mod 256)
func canUARTSend(data []byte) []byte {
	n := len(data)
	frame := make([]byte, n+4)
	frame[0] = 0x2D
	frame[1] = 0xD4
	frame[2] = byte(n + 1)
	sum := frame[2] + 0x2D
	for i, b := range data {
		frame[3+i] = b
		sum += b
	}
	frame[3+n] = sum
	return frame
}

// flagsByte packs Extended/Remote into the high bits alongside the payload
// length, mirroring the 0x80|len DLC byte convention but adding a remote bit.
func flagsByte(f canframe.Frame) byte {
	b := f.Length & 0x3F
	if f.Extended {
		b |= 0x80
	}
	if f.Remote {
		b |= 0x40
	}
	return b
}

// Encode serializes one CanFrame: INS(1)=2 + FLAGS(1) + ID(4 BE) + PAYLOAD(0..8).
func (Codec) Encode(f canframe.Frame) []byte {
	tab := make([]byte, 6+f.Length)
	tab[0] = 2 // INS: CAN frame send
	tab[1] = flagsByte(f)
	tab[2] = byte(f.ID >> 24)
	tab[3] = byte(f.ID >> 16)
	tab[4] = byte(f.ID >> 8)
	tab[5] = byte(f.ID)
	copy(tab[6:], f.Data[:f.Length])
	return canUARTSend(tab)
}

// DecodeStream reads from in and emits complete frames via out. It returns
// nil if no error occurred (including a clean empty buffer); malformed
// frames resync by skipping one byte and bump metrics.IncMalformed-style
// counters via metrics.IncError.
func (Codec) DecodeStream(in *bytes.Buffer, out func(canframe.Frame)) error {
	const (
		pre0  = 0x2D
		pre1  = 0xD4
		minLn = 6 + 0 + 1 // INS+FLAGS+ID(4)+checksum, DLC=0
		maxLn = 6 + 8 + 1 // DLC=8
	)
	header := []byte{pre0, pre1}

	for {
		data := in.Bytes()
		_ = CompactBuffer(in)
		if len(data) < 3 {
			return nil
		}
		i := bytes.Index(data, header)
		if i < 0 {
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}
		if len(data) < 4 {
			return nil
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncError("serial_malformed")
			in.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return nil
		}
		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncError("serial_malformed")
			in.Next(1)
			continue
		}

		flags := data[4]
		id := binary.BigEndian.Uint32(data[5:9])
		payload := data[9 : req-1]

		var f canframe.Frame
		f.ID = id
		f.Extended = flags&0x80 != 0
		f.Remote = flags&0x40 != 0
		f.Length = uint8(len(payload))
		copy(f.Data[:], payload)

		out(f)
		metrics.IncSerialRx()
		in.Next(req)
	}
}
