// Package transport carries the byte streams of the EC ports over packet
// links. Each packet is an Envelope naming the port it belongs to.
package transport

import "errors"

// PacketReader reads packets in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packets in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packets in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

var (
	// ErrPacketTooLarge indicates a packet which can never fit the queue.
	ErrPacketTooLarge = errors.New("packet too large")
	// ErrUnknownPort indicates an envelope for a port without endpoint.
	ErrUnknownPort = errors.New("unknown port")
)
