package hostcmd

import (
	"errors"
	"fmt"
)

var (
	// ErrShortPacket indicates a truncated packet.
	ErrShortPacket = errors.New("packet too short")
	// ErrBadVersion indicates an unsupported struct version.
	ErrBadVersion = errors.New("unsupported packet version")
	// ErrBadChecksum indicates a checksum mismatch.
	ErrBadChecksum = errors.New("checksum mismatch")
	// ErrBusy indicates the engine cannot take another request.
	ErrBusy = errors.New("host command engine busy")
)

// ResultError wraps a non-success Result.
type ResultError struct {
	Command Command
	Result  Result
}

// Error implements error.
func (e *ResultError) Error() string {
	return fmt.Sprintf("command 0x%04x: %s", uint16(e.Command), e.Result)
}
