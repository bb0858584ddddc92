package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/queue"
)

// DefaultPacketSize bounds outbound packets like a full-speed USB endpoint.
const DefaultPacketSize = 64

// Endpoint connects one port of a packet link to a queue pair, the way a
// USB stream interface does. Wire Producer as the producer of the queue
// receiving inbound data and Consumer as the consumer of the queue holding
// outbound data.
type Endpoint struct {
	Port       uint32
	PacketSize int

	producer queue.Producer
	consumer queue.Consumer
	room     *fx.Event
	data     *fx.Event

	// txLock serializes Drain and Flush on the outbound queue.
	txLock  sync.Mutex
	flushes uint64

	rxPackets atomic.Uint64
	txPackets atomic.Uint64
}

// EndpointStats counts packets through an endpoint.
type EndpointStats struct {
	RxPackets uint64
	TxPackets uint64
}

// NewEndpoint creates an Endpoint.
func NewEndpoint(port uint32, packetSize int) *Endpoint {
	e := &Endpoint{
		Port:       port,
		PacketSize: packetSize,
		room:       fx.NewEvent(),
		data:       fx.NewEvent(),
	}
	e.producer.Ops = queue.WakeOnRead(e.room)
	e.consumer.Ops = queue.WakeOnWritten(e.data)
	return e
}

// Producer is the handle for the inbound queue.
func (e *Endpoint) Producer() *queue.Producer {
	return &e.producer
}

// Consumer is the handle for the outbound queue.
func (e *Endpoint) Consumer() *queue.Consumer {
	return &e.consumer
}

// Stats returns a snapshot of the counters.
func (e *Endpoint) Stats() EndpointStats {
	return EndpointStats{
		RxPackets: e.rxPackets.Load(),
		TxPackets: e.txPackets.Load(),
	}
}

// Deliver adds an inbound packet. A packet is only added whole, so Deliver
// waits until the queue has room for all of it.
func (e *Endpoint) Deliver(ctx context.Context, pkt []byte) error {
	q := e.producer.Queue
	if len(pkt) > q.Capacity()*q.UnitBytes() {
		return ErrPacketTooLarge
	}
	for q.Space()*q.UnitBytes() < len(pkt) {
		if err := e.room.Wait(ctx); err != nil {
			return err
		}
	}
	q.AddUnits(pkt)
	e.rxPackets.Add(1)
	return nil
}

// Drain sends outbound data in packets of at most PacketSize bytes until
// ctx ends or send fails. A packet may span the wrap of the queue storage.
// The data is consumed only after send returns.
func (e *Endpoint) Drain(ctx context.Context, send func([]byte) error) error {
	q := e.consumer.Queue
	size := e.PacketSize
	if size <= 0 || size > q.Capacity() {
		size = q.Capacity()
	}
	pkt := make([]byte, size*q.UnitBytes())
	for {
		e.txLock.Lock()
		n := q.PeekUnits(pkt, 0)
		flushes := e.flushes
		e.txLock.Unlock()
		if n == 0 {
			if err := e.data.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		if err := send(pkt[:n*q.UnitBytes()]); err != nil {
			return err
		}
		e.txLock.Lock()
		if e.flushes == flushes {
			q.AdvanceHead(n)
		}
		e.txLock.Unlock()
		e.txPackets.Add(1)
		glog.V(4).Infof("transport: port %d sent %d bytes", e.Port, n)
	}
}

// Flush drops buffered outbound data.
func (e *Endpoint) Flush() int {
	e.txLock.Lock()
	defer e.txLock.Unlock()
	e.flushes++
	return queue.Discard(e.consumer.Queue)
}
