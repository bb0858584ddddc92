package dap

import (
	"errors"
	"sync"
)

var (
	// ErrClockRange indicates an unsupported debug clock.
	ErrClockRange = errors.New("debug clock out of range")
	// ErrUnexpectedResponse indicates a response for another command.
	ErrUnexpectedResponse = errors.New("unexpected cmsis-dap response")
)

// CommandError is a failure status returned by the probe.
type CommandError struct {
	Command Command
}

// Error implements error.
func (e *CommandError) Error() string {
	return "cmsis-dap " + e.Command.String() + " failed"
}

// Clock limits of SimTarget.
const (
	MinClockHz = 1000
	MaxClockHz = 10000000
)

// SimTarget is a JTAG-only Target which records what the probe asked for.
type SimTarget struct {
	lock   sync.Mutex
	mode   Mode
	resets int
	clock  uint32
}

// Connect implements Target.
func (t *SimTarget) Connect(mode Mode) Mode {
	t.lock.Lock()
	defer t.lock.Unlock()
	switch mode {
	case ModeDefault, ModeJTAG:
		t.mode = ModeJTAG
	default:
		return ModeFailed
	}
	return t.mode
}

// Disconnect implements Target.
func (t *SimTarget) Disconnect() {
	t.lock.Lock()
	t.mode = ModeFailed
	t.lock.Unlock()
}

// ResetTarget implements Target.
func (t *SimTarget) ResetTarget() bool {
	t.lock.Lock()
	t.resets++
	t.lock.Unlock()
	return true
}

// SetClock implements Target.
func (t *SimTarget) SetClock(hz uint32) error {
	if hz < MinClockHz || hz > MaxClockHz {
		return ErrClockRange
	}
	t.lock.Lock()
	t.clock = hz
	t.lock.Unlock()
	return nil
}

// Mode is the connected mode, ModeFailed when disconnected.
func (t *SimTarget) Mode() Mode {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.mode
}

// Resets is the number of target resets.
func (t *SimTarget) Resets() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.resets
}

// Clock is the last accepted clock.
func (t *SimTarget) Clock() uint32 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.clock
}
