package update

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Wire constants. All multi-byte fields are big-endian.
const (
	// HeaderSize is the size of the frame header preceding every block.
	HeaderSize = 12
	// DoneMarker ends an update session.
	DoneMarker uint32 = 0xB007AB1E
	// ExtraCmdMarker in the block_base field marks an extra command.
	ExtraCmdMarker uint32 = 0xB007AB1F
	// ProtocolVersion is the version reported in the first response.
	ProtocolVersion = 6
	// HeaderTypeCommon identifies the common first response layout.
	HeaderTypeCommon = 1
	// VersionStringSize is the size of the version field.
	VersionStringSize = 32
	// FirstResponseSize is the encoded size of FirstResponse.
	FirstResponseSize = 4 + 2 + 2 + 4 + 4 + 4 + VersionStringSize + 4 + 4
)

// Status is the result of an update step, sent back as a single byte for
// blocks or a 4-byte value for the start request.
type Status uint8

// Status codes.
const (
	Success Status = iota
	BadAddr
	EraseFailure
	DataError
	WriteFailure
	VerifyError
	GenError
	MallocError
	RollbackError
	RateLimit
	RWSigBusy
)

var statusNames = []string{
	"success",
	"bad address",
	"erase failure",
	"data error",
	"write failure",
	"verify error",
	"general error",
	"malloc error",
	"rollback error",
	"rate limited",
	"rwsig busy",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ExtraCommand is the subcommand of an extra command request.
type ExtraCommand uint16

// Extra subcommands.
const (
	ExtraImmediateReset ExtraCommand = iota
	ExtraJumpToRW
	ExtraStayInRO
	ExtraUnlockRW
	ExtraUnlockRollback
	ExtraInjectEntropy
	ExtraPairChallenge
	ExtraTouchpadInfo
	ExtraTouchpadDebug
	ExtraConsoleReadInit
	ExtraConsoleReadNext
)

// Header precedes every block, the start request and extra commands.
type Header struct {
	// BlockSize is the total size including the header.
	BlockSize uint32
	Digest    uint32
	Base      uint32
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		BlockSize: binary.BigEndian.Uint32(b[0:]),
		Digest:    binary.BigEndian.Uint32(b[4:]),
		Base:      binary.BigEndian.Uint32(b[8:]),
	}, nil
}

// AppendTo appends the encoded header to b.
func (h Header) AppendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, h.BlockSize)
	b = binary.BigEndian.AppendUint32(b, h.Digest)
	return binary.BigEndian.AppendUint32(b, h.Base)
}

// PayloadSize is the number of bytes following the header.
func (h Header) PayloadSize() int {
	return int(h.BlockSize) - HeaderSize
}

// BlockDigest computes the digest of a block: the first 4 bytes of the
// SHA-256 of the big-endian base followed by the payload.
func BlockDigest(base uint32, payload []byte) uint32 {
	h := sha256.New()
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], base)
	h.Write(b[:])
	h.Write(payload)
	return binary.BigEndian.Uint32(h.Sum(nil))
}

// FirstResponse is the reply to the start request.
type FirstResponse struct {
	ReturnValue     uint32
	HeaderType      uint16
	ProtocolVersion uint16
	MaxPDUSize      uint32
	FlashProtection uint32
	Offset          uint32
	Version         string
	MinRollback     int32
	KeyVersion      uint32
}

// Encode encodes the full response.
func (r *FirstResponse) Encode() []byte {
	b := make([]byte, 0, FirstResponseSize)
	b = binary.BigEndian.AppendUint32(b, r.ReturnValue)
	b = binary.BigEndian.AppendUint16(b, r.HeaderType)
	b = binary.BigEndian.AppendUint16(b, r.ProtocolVersion)
	b = binary.BigEndian.AppendUint32(b, r.MaxPDUSize)
	b = binary.BigEndian.AppendUint32(b, r.FlashProtection)
	b = binary.BigEndian.AppendUint32(b, r.Offset)
	var ver [VersionStringSize]byte
	copy(ver[:VersionStringSize-1], r.Version)
	b = append(b, ver[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(r.MinRollback))
	return binary.BigEndian.AppendUint32(b, r.KeyVersion)
}

// DecodeFirstResponse decodes an encoded FirstResponse.
func DecodeFirstResponse(b []byte) (*FirstResponse, error) {
	if len(b) < FirstResponseSize {
		return nil, ErrShortResponse
	}
	r := &FirstResponse{
		ReturnValue:     binary.BigEndian.Uint32(b[0:]),
		HeaderType:      binary.BigEndian.Uint16(b[4:]),
		ProtocolVersion: binary.BigEndian.Uint16(b[6:]),
		MaxPDUSize:      binary.BigEndian.Uint32(b[8:]),
		FlashProtection: binary.BigEndian.Uint32(b[12:]),
		Offset:          binary.BigEndian.Uint32(b[16:]),
	}
	ver := b[20 : 20+VersionStringSize]
	if n := bytes.IndexByte(ver, 0); n >= 0 {
		ver = ver[:n]
	}
	r.Version = string(ver)
	b = b[20+VersionStringSize:]
	r.MinRollback = int32(binary.BigEndian.Uint32(b[0:]))
	r.KeyVersion = binary.BigEndian.Uint32(b[4:])
	return r, nil
}

// StartRequest encodes the request opening a session.
func StartRequest() []byte {
	return Header{BlockSize: HeaderSize}.AppendTo(nil)
}

// DoneRequest encodes the request ending a session.
func DoneRequest() []byte {
	return binary.BigEndian.AppendUint32(nil, DoneMarker)
}

// BlockRequest encodes a block with its header. A zero digest is
// replaced by BlockDigest when withDigest is set.
func BlockRequest(base uint32, payload []byte, withDigest bool) []byte {
	h := Header{BlockSize: uint32(HeaderSize + len(payload)), Base: base}
	if withDigest {
		h.Digest = BlockDigest(base, payload)
	}
	b := h.AppendTo(make([]byte, 0, int(h.BlockSize)))
	return append(b, payload...)
}

// ExtraRequest encodes an extra command.
func ExtraRequest(cmd ExtraCommand, body []byte) []byte {
	h := Header{BlockSize: uint32(HeaderSize + 2 + len(body)), Base: ExtraCmdMarker}
	b := h.AppendTo(make([]byte, 0, int(h.BlockSize)))
	b = binary.BigEndian.AppendUint16(b, uint16(cmd))
	return append(b, body...)
}
