// Package serial carries packets over a raw byte stream such as a UART.
//
// Both sides synchronize with a sequence handshake before any frame is
// sent: a side sends syncREQ followed by its next sequence number and the
// peer answers syncACK with its own. Every frame then carries the next
// expected sequence number, so a lost or corrupted byte is detected and
// the link resynchronizes. There is no checksum; enable parity on the
// port if the line is noisy.
//
// A frame holds at most MaxFrameData bytes. Longer packets are split into
// frames flagged FlagMore, followed by one final frame.
package serial

import (
	"io"
	"time"
)

// Seq is a frame sequence number.
type Seq byte

// NewSeq creates a random sequence number.
func NewSeq() Seq {
	return Seq(byte(time.Now().UnixNano())).Next()
}

// Next calculates the next sequence number.
func (s Seq) Next() Seq {
	n := byte(s) + 1
	if n == 0 || n >= 0xf0 {
		n = 1
	}
	return Seq(n)
}

// IsValid checks if it's a valid sequence number.
func (s Seq) IsValid() bool {
	n := byte(s)
	return n > 0 && n < 0xf0
}

const (
	// MaxFrameData is the largest payload of one frame.
	MaxFrameData = 0x7f
	// FlagMore marks a frame followed by more frames of the same packet.
	FlagMore byte = 0x01

	flagsMask byte = 0x8f
)

// Frame is one unit on the wire.
type Frame struct {
	Seq   Seq
	Flags byte
	Data  []byte
}

// Bytes returns encoded bytes for sending. Lengths below 7 are packed
// into the flags byte.
func (f *Frame) Bytes() []byte {
	b := make([]byte, len(f.Data)+3)
	b[0], b[1] = byte(f.Seq), f.Flags&flagsMask
	if l := byte(len(f.Data)); l >= 7 {
		b[1] |= 0x70
		b[2] = l
		copy(b[3:], f.Data)
	} else {
		b = b[:l+2]
		b[1] |= (l << 4) & 0x70
		copy(b[2:], f.Data)
	}
	return b
}

// WriteTo implements io.WriterTo.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Bytes())
	return int64(n), err
}

// Split cuts a packet into frames, without sequence numbers.
func Split(pkt []byte) []Frame {
	var frames []Frame
	for len(pkt) > MaxFrameData {
		frames = append(frames, Frame{Flags: FlagMore, Data: pkt[:MaxFrameData]})
		pkt = pkt[MaxFrameData:]
	}
	return append(frames, Frame{Data: pkt})
}
