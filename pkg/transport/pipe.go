package transport

import (
	"io"
	"sync"
)

// PipeEnd is one end of an in-process packet link.
type PipeEnd struct {
	rx <-chan []byte
	tx chan<- []byte

	done      chan struct{}
	closeOnce *sync.Once
}

// Pipe creates a connected pair of packet links. Closing either end closes
// both.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab, ba := make(chan []byte, 16), make(chan []byte, 16)
	done, once := make(chan struct{}), &sync.Once{}
	return &PipeEnd{rx: ba, tx: ab, done: done, closeOnce: once},
		&PipeEnd{rx: ab, tx: ba, done: done, closeOnce: once}
}

// ReadPacket implements PacketReader.
func (p *PipeEnd) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.rx:
		return pkt, nil
	case <-p.done:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (p *PipeEnd) WritePacket(pkt []byte) error {
	pkt = append([]byte(nil), pkt...)
	select {
	case p.tx <- pkt:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

// Close implements io.Closer.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
