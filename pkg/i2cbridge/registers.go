package i2cbridge

import (
	"fmt"
	"sync"
)

// Registers is a Bus of simulated peripherals, each a 256-byte register
// file. The first byte written selects the register; further bytes are
// written from there and reads continue from the selected register.
type Registers struct {
	Ports int

	lock    sync.Mutex
	devices map[uint16]*regFile
}

type regFile struct {
	regs [256]byte
	ptr  uint8
}

// NewRegisters creates a Registers bus with the given number of ports.
func NewRegisters(ports int) *Registers {
	return &Registers{Ports: ports, devices: make(map[uint16]*regFile)}
}

func deviceKey(port int, addr uint8) uint16 {
	return uint16(port)<<8 | uint16(addr)
}

// Attach adds a peripheral at addr on port.
func (r *Registers) Attach(port int, addr uint8) error {
	if port < 0 || port >= r.Ports {
		return fmt.Errorf("attach 0x%02x: %w", addr, ErrPortInvalid)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.devices[deviceKey(port, addr)]; !ok {
		r.devices[deviceKey(port, addr)] = &regFile{}
	}
	return nil
}

// Peek returns a copy of the register file of a peripheral.
func (r *Registers) Peek(port int, addr uint8) ([256]byte, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	dev, ok := r.devices[deviceKey(port, addr)]
	if !ok {
		return [256]byte{}, false
	}
	return dev.regs, true
}

// Xfer implements Bus.
func (r *Registers) Xfer(port int, addr uint8, out, in []byte) error {
	if port < 0 || port >= r.Ports {
		return ErrPortInvalid
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	dev, ok := r.devices[deviceKey(port, addr)]
	if !ok {
		return fmt.Errorf("port %d addr 0x%02x: %w", port, addr, ErrNoDevice)
	}
	if len(out) > 0 {
		dev.ptr = out[0]
		for _, b := range out[1:] {
			dev.regs[dev.ptr] = b
			dev.ptr++
		}
	}
	for i := range in {
		in[i] = dev.regs[dev.ptr]
		dev.ptr++
	}
	return nil
}
