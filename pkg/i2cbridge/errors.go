package i2cbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates the bus transaction timed out.
	ErrTimeout = errors.New("i2c timeout")
	// ErrBusy indicates the bus is in use.
	ErrBusy = errors.New("i2c bus busy")
	// ErrNoDevice indicates no peripheral acknowledged the address.
	ErrNoDevice = errors.New("i2c no device")
	// ErrPortInvalid indicates the port does not exist.
	ErrPortInvalid = errors.New("i2c port invalid")
	// ErrShortResponse indicates a truncated response.
	ErrShortResponse = errors.New("i2c response too short")
)

// StatusError is a non-success status returned by the device.
type StatusError struct {
	Status Status
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("i2c bridge: %s", e.Status)
}

// StatusOf maps a bus error to the status reported to the host.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrTimeout):
		return Timeout
	case errors.Is(err, ErrBusy):
		return Busy
	case errors.Is(err, ErrPortInvalid):
		return PortInvalid
	}
	return UnknownError
}
