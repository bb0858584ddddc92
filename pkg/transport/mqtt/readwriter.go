package mqtt

import (
	"context"
	"io"
	"sync"
)

// Topic suffixes of a device.
const (
	InTopic   = "in"
	OutTopic  = "out"
	MetaTopic = "meta"
)

// DeviceTopic joins a device ID and a suffix.
func DeviceTopic(id, suffix string) string {
	return id + "/" + suffix
}

// ReadWriter implements transport.PacketReadWriter over a pair of topics.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	packetCh  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewPacketReadWriter creates the ReadWriter.
func NewPacketReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:    q,
		packetCh: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForDevice sets topics using the convention of the device side:
// SubTopic = id/in
// PubTopic = id/out
func (p *ReadWriter) ForDevice(id string) *ReadWriter {
	return p.WithTopics(DeviceTopic(id, InTopic), DeviceTopic(id, OutTopic))
}

// ForHost sets topics using the convention of the host side:
// SubTopic = id/out
// PubTopic = id/in
func (p *ReadWriter) ForHost(id string) *ReadWriter {
	return p.WithTopics(DeviceTopic(id, OutTopic), DeviceTopic(id, InTopic))
}

// ReadPacket implements transport.PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.done:
		return nil, io.EOF
	}
}

// WritePacket implements transport.PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	token := p.Queue.Pub(p.PubTopic, pkt)
	token.Wait()
	return token.Error()
}

// Run implements framework.Runnable. Packets are received until ctx ends
// or the ReadWriter is closed.
func (p *ReadWriter) Run(ctx context.Context) error {
	sub := p.Queue.Sub(p.SubTopic, Handler(p.handleMsg))
	defer sub.Close()
	select {
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	case <-p.done:
		return nil
	}
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *ReadWriter) handleMsg(_ string, payload []byte) {
	select {
	case p.packetCh <- payload:
	case <-p.done:
	}
}
