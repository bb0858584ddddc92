// Package dap serves CMSIS-DAP requests from a byte queue. Requests are
// dispatched by their first byte through a 256-entry table. The protocol has
// no generic framing, so each handler decides whether its request is
// complete.
package dap

import "fmt"

// Command is the first byte of a request and of its response.
type Command uint8

// Commands.
const (
	CmdInfo              Command = 0x00
	CmdHostStatus        Command = 0x01
	CmdConnect           Command = 0x02
	CmdDisconnect        Command = 0x03
	CmdTransferConfigure Command = 0x04
	CmdResetTarget       Command = 0x0A
	CmdSWJClock          Command = 0x11
	CmdGoogInfo          Command = 0x80
)

var commandNames = map[Command]string{
	CmdInfo:              "info",
	CmdHostStatus:        "host_status",
	CmdConnect:           "connect",
	CmdDisconnect:        "disconnect",
	CmdTransferConfigure: "transfer_configure",
	CmdResetTarget:       "reset_target",
	CmdSWJClock:          "swj_clock",
	CmdGoogInfo:          "goog_info",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(0x%02x)", uint8(c))
}

// Response status bytes.
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// InfoID selects the Info item.
type InfoID uint8

// Info items.
const (
	InfoVendor       InfoID = 0x01
	InfoProduct      InfoID = 0x02
	InfoSerial       InfoID = 0x03
	InfoVersion      InfoID = 0x04
	InfoCapabilities InfoID = 0xF0
	InfoPacketCount  InfoID = 0xFE
	InfoPacketSize   InfoID = 0xFF
)

// Capability bits reported by InfoCapabilities.
const (
	CapSWD  uint16 = 1 << 0
	CapJTAG uint16 = 1 << 1
)

// Vendor capability bits reported by GoogInfo.
const (
	GoogCapI2C            uint16 = 1 << 0
	GoogCapI2CDevice      uint16 = 1 << 1
	GoogCapGpioMonitoring uint16 = 1 << 2
	GoogCapGpioBitbanging uint16 = 1 << 3
)

// GoogInfoCapabilities is the only GoogInfo subcommand.
const GoogInfoCapabilities = 0x00

// Mode is the debug port of a connection.
type Mode uint8

// Modes. ModeDefault in a request, ModeFailed in a response.
const (
	ModeDefault Mode = 0
	ModeFailed  Mode = 0
	ModeSWD     Mode = 1
	ModeJTAG    Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeSWD:
		return "swd"
	case ModeJTAG:
		return "jtag"
	}
	return "none"
}

// PeekSize is how many bytes are peeked before dispatch.
const PeekSize = 8

// MaxPacketSize bounds a request and a response.
const MaxPacketSize = 256
