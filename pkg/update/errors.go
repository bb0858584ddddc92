package update

import (
	"errors"
	"fmt"
)

var (
	// ErrShortHeader indicates less than HeaderSize bytes.
	ErrShortHeader = errors.New("update header too short")
	// ErrShortResponse indicates a truncated response.
	ErrShortResponse = errors.New("update response too short")
	// ErrNotStarted indicates a transfer before a successful start.
	ErrNotStarted = errors.New("update session not started")
)

// StatusError is a non-success Status returned by the device.
type StatusError struct {
	Op     string
	Status Status
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// StartError is a non-zero return value of the start request.
type StartError struct {
	Code uint32
}

// Error implements error.
func (e *StartError) Error() string {
	return fmt.Sprintf("update start rejected: %s", Status(e.Code))
}
