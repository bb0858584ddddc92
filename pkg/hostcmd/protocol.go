package hostcmd

import (
	"encoding/binary"
	"fmt"
)

// Wire layout of version 3 packets. Multi-byte fields are little-endian.
const (
	RequestVersion     = 3
	ResponseVersion    = 3
	RequestHeaderSize  = 8
	ResponseHeaderSize = 8

	DefaultMaxRequestSize  = 0x220
	DefaultMaxResponseSize = 0x100
)

// Command is a host command code.
type Command uint16

// Commands implemented by the simulated EC.
const (
	CmdHello           Command = 0x0001
	CmdGetVersion      Command = 0x0002
	CmdGetProtocolInfo Command = 0x000B
	CmdRebootEC        Command = 0x00D2
)

// Result is the status of a host command.
type Result uint16

// Results.
const (
	ResSuccess Result = iota
	ResInvalidCommand
	ResError
	ResInvalidParam
	ResAccessDenied
	ResInvalidResponse
	ResInvalidVersion
	ResInvalidChecksum
	ResInProgress
	ResUnavailable
	ResTimeout
	ResOverflow
	ResInvalidHeader
	ResRequestTruncated
	ResResponseTooBig
	ResBusError
	ResBusy
)

var resultNames = map[Result]string{
	ResSuccess:          "success",
	ResInvalidCommand:   "invalid command",
	ResError:            "error",
	ResInvalidParam:     "invalid param",
	ResAccessDenied:     "access denied",
	ResInvalidResponse:  "invalid response",
	ResInvalidVersion:   "invalid version",
	ResInvalidChecksum:  "invalid checksum",
	ResInProgress:       "in progress",
	ResUnavailable:      "unavailable",
	ResTimeout:          "timeout",
	ResOverflow:         "overflow",
	ResInvalidHeader:    "invalid header",
	ResRequestTruncated: "request truncated",
	ResResponseTooBig:   "response too big",
	ResBusError:         "bus error",
	ResBusy:             "busy",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", uint16(r))
}

// Checksum returns the byte which makes the sum of b zero.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return -sum
}

// Valid reports whether the bytes of b sum to zero.
func Valid(b []byte) bool {
	return Checksum(b) == 0
}

// ExpectedSize returns the total packet size announced by a request header,
// or 0 if hdr is not a valid version 3 header.
func ExpectedSize(hdr []byte) int {
	if len(hdr) < RequestHeaderSize || hdr[0] != RequestVersion || hdr[5] != 0 {
		return 0
	}
	return RequestHeaderSize + int(binary.LittleEndian.Uint16(hdr[6:]))
}

// Request is a decoded request packet.
type Request struct {
	Command Command
	Version uint8
	Params  []byte
}

// EncodeRequest builds a request packet.
func EncodeRequest(cmd Command, version uint8, params []byte) []byte {
	b := make([]byte, RequestHeaderSize, RequestHeaderSize+len(params))
	b[0] = RequestVersion
	binary.LittleEndian.PutUint16(b[2:], uint16(cmd))
	b[4] = version
	binary.LittleEndian.PutUint16(b[6:], uint16(len(params)))
	b = append(b, params...)
	b[1] = Checksum(b)
	return b
}

// ParseRequest decodes and verifies a request packet. The error is the
// Result to reply with.
func ParseRequest(b []byte) (*Request, Result) {
	if len(b) < RequestHeaderSize || b[0] != RequestVersion || b[5] != 0 {
		return nil, ResInvalidHeader
	}
	size := ExpectedSize(b)
	if len(b) < size {
		return nil, ResRequestTruncated
	}
	b = b[:size]
	if !Valid(b) {
		return nil, ResInvalidChecksum
	}
	return &Request{
		Command: Command(binary.LittleEndian.Uint16(b[2:])),
		Version: b[4],
		Params:  b[RequestHeaderSize:],
	}, ResSuccess
}

// Response is a decoded response packet.
type Response struct {
	Result Result
	Data   []byte
}

// PutResponse writes a response with data already placed at
// buf[ResponseHeaderSize:] and returns the packet size.
func PutResponse(buf []byte, result Result, dataLen int) int {
	buf[0] = ResponseVersion
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:], uint16(result))
	binary.LittleEndian.PutUint16(buf[4:], uint16(dataLen))
	buf[6], buf[7] = 0, 0
	size := ResponseHeaderSize + dataLen
	buf[1] = Checksum(buf[:size])
	return size
}

// EncodeResponse builds a response packet.
func EncodeResponse(result Result, data []byte) []byte {
	b := make([]byte, ResponseHeaderSize+len(data))
	copy(b[ResponseHeaderSize:], data)
	PutResponse(b, result, len(data))
	return b
}

// ResponseDataLen returns the data length from a response header.
func ResponseDataLen(hdr []byte) int {
	return int(binary.LittleEndian.Uint16(hdr[4:]))
}

// ParseResponse decodes and verifies a response packet.
func ParseResponse(b []byte) (*Response, error) {
	if len(b) < ResponseHeaderSize {
		return nil, ErrShortPacket
	}
	if b[0] != ResponseVersion {
		return nil, ErrBadVersion
	}
	size := ResponseHeaderSize + ResponseDataLen(b)
	if len(b) < size {
		return nil, ErrShortPacket
	}
	b = b[:size]
	if !Valid(b) {
		return nil, ErrBadChecksum
	}
	return &Response{
		Result: Result(binary.LittleEndian.Uint16(b[2:])),
		Data:   b[ResponseHeaderSize:],
	}, nil
}
