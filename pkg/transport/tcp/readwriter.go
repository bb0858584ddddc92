// Package tcp carries packets over a TCP connection or any other byte
// stream.
package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/robotalks/ec.go/pkg/transport"
)

// DefaultMaxPacketSize bounds the size of a received packet.
const DefaultMaxPacketSize = 4096

// ReadWriter implements transport.PacketReadWriter.
// Each packet is prefixed by 4-byte (little-endian) indicate the length.
type ReadWriter struct {
	io.ReadWriter
	MaxPacketSize int

	writeLock sync.Mutex
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{ReadWriter: s, MaxPacketSize: DefaultMaxPacketSize}
}

// ReadPacket implements transport.PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(p, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if p.MaxPacketSize > 0 && size > uint32(p.MaxPacketSize) {
		return nil, fmt.Errorf("%w: %d bytes", transport.ErrPacketTooLarge, size)
	}
	pkt := make([]byte, size)
	_, err := io.ReadFull(p, pkt)
	return pkt, err
}

// WritePacket implements transport.PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	buf := make([]byte, 4, 4+len(pkt))
	binary.LittleEndian.PutUint32(buf, uint32(len(pkt)))
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	_, err := p.Write(append(buf, pkt...))
	return err
}

// Close closes the underlying stream if it is an io.Closer.
func (p *ReadWriter) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Dial connects to a TCP address.
func Dial(addr string) (*ReadWriter, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}
