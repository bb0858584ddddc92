// Package i2cbridge tunnels I2C transactions over a byte stream. The device
// side peeks at each frame header and consumes a frame only once all of it
// has arrived.
package i2cbridge

import (
	"encoding/binary"
	"fmt"
)

// Frame layout.
const (
	// HeaderSize is the size of the fixed request header.
	HeaderSize = 4
	// ExtHeaderSize is the header size when the read count is extended.
	ExtHeaderSize = 5
	// StatusSize is the size of the status preceding the read data.
	StatusSize = 2
	// MaxPort is the largest port index the header can carry.
	MaxPort = 0x0f
	// MaxWriteCount is the largest write count the header can carry.
	MaxWriteCount = 0xfff
	// MaxReadCount is the largest read count the header can carry.
	MaxReadCount = 0x7fff

	readCountExt = 0x80
)

// Status is the result of a transaction.
type Status uint16

// Status codes.
const (
	Success            Status = 0x0000
	Timeout            Status = 0x0001
	Busy               Status = 0x0002
	WriteCountInvalid  Status = 0x0003
	ReadCountInvalid   Status = 0x0004
	PortInvalid        Status = 0x0005
	Disabled           Status = 0x0006
	MissingHandler     Status = 0x0007
	UnsupportedCommand Status = 0x0008
	UnknownError       Status = 0x8000
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case Busy:
		return "busy"
	case WriteCountInvalid:
		return "write count invalid"
	case ReadCountInvalid:
		return "read count invalid"
	case PortInvalid:
		return "port invalid"
	case Disabled:
		return "disabled"
	case MissingHandler:
		return "missing handler"
	case UnsupportedCommand:
		return "unsupported command"
	case UnknownError:
		return "unknown error"
	}
	return fmt.Sprintf("status(0x%04x)", uint16(s))
}

// Header is a decoded request header.
type Header struct {
	Port       int
	Addr       uint8
	WriteCount int
	ReadCount  int
	// Size is the encoded header size, HeaderSize or ExtHeaderSize.
	Size int
}

// FrameSize is the size of the whole request frame.
func (h Header) FrameSize() int {
	return h.Size + h.WriteCount
}

// ParseHeader decodes the header at the start of b. It returns false if
// more bytes are needed.
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	h := Header{
		Port:       int(b[0] & 0x0f),
		Addr:       b[1] & 0x7f,
		WriteCount: int(b[0]>>4)<<8 | int(b[2]),
		ReadCount:  int(b[3]),
		Size:       HeaderSize,
	}
	if b[3]&readCountExt != 0 {
		if len(b) < ExtHeaderSize {
			return Header{}, false
		}
		h.ReadCount = int(b[3]&^readCountExt) | int(b[4])<<7
		h.Size = ExtHeaderSize
	}
	return h, true
}

// EncodeRequest builds a request frame.
func EncodeRequest(port int, addr uint8, out []byte, readCount int) ([]byte, error) {
	if port < 0 || port > MaxPort {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	if len(out) > MaxWriteCount {
		return nil, fmt.Errorf("write count %d too large", len(out))
	}
	if readCount < 0 || readCount > MaxReadCount {
		return nil, fmt.Errorf("read count %d out of range", readCount)
	}
	b := make([]byte, 0, ExtHeaderSize+len(out))
	b = append(b, byte(len(out)>>8)<<4|byte(port), addr&0x7f, byte(len(out)))
	if readCount < readCountExt {
		b = append(b, byte(readCount))
	} else {
		b = append(b, byte(readCount&0x7f)|readCountExt, byte(readCount>>7))
	}
	return append(b, out...), nil
}

// EncodeResponse builds a response: status followed by data.
func EncodeResponse(status Status, data []byte) []byte {
	b := binary.LittleEndian.AppendUint16(make([]byte, 0, StatusSize+len(data)), uint16(status))
	return append(b, data...)
}

// ParseStatus decodes the status at the start of a response.
func ParseStatus(b []byte) (Status, error) {
	if len(b) < StatusSize {
		return 0, ErrShortResponse
	}
	return Status(binary.LittleEndian.Uint16(b)), nil
}
