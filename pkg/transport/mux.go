package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/ec.go/pkg/framework"
)

// Mux multiplexes endpoints over one packet link. Inbound envelopes are
// delivered to the endpoint of their port; outbound data of every endpoint
// is wrapped in envelopes.
type Mux struct {
	ReadWriter PacketReadWriter

	endpoints map[uint32]*Endpoint
	sendLock  sync.Mutex
	seq       atomic.Uint32

	rxPackets atomic.Uint64
	txPackets atomic.Uint64
	dropped   atomic.Uint64
}

// MuxStats counts packets through a Mux.
type MuxStats struct {
	RxPackets uint64
	TxPackets uint64
	Dropped   uint64
}

// NewMux creates a Mux with given PacketReadWriter.
func NewMux(rw PacketReadWriter, endpoints ...*Endpoint) *Mux {
	m := &Mux{ReadWriter: rw, endpoints: make(map[uint32]*Endpoint)}
	for _, ep := range endpoints {
		m.endpoints[ep.Port] = ep
	}
	return m
}

// Stats returns a snapshot of the counters.
func (m *Mux) Stats() MuxStats {
	return MuxStats{
		RxPackets: m.rxPackets.Load(),
		TxPackets: m.txPackets.Load(),
		Dropped:   m.dropped.Load(),
	}
}

// Send wraps data for port in an envelope and writes it.
func (m *Mux) Send(port uint32, data []byte) error {
	env := &Envelope{Port: port, Seq: m.seq.Add(1), Data: data}
	pkt, err := env.Encode()
	if err != nil {
		return err
	}
	m.sendLock.Lock()
	defer m.sendLock.Unlock()
	if err := m.ReadWriter.WritePacket(pkt); err != nil {
		return err
	}
	m.txPackets.Add(1)
	return nil
}

// Name implements framework.Named.
func (m *Mux) Name() string {
	return "mux"
}

// Run implements framework.Runnable. It returns when the link fails or ctx
// ends, after closing the link.
func (m *Mux) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var errs fx.AggregatedError
	var lock sync.Mutex
	var wg sync.WaitGroup
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn()
			if err != nil && !errors.Is(err, context.Canceled) {
				lock.Lock()
				errs.Add(err)
				lock.Unlock()
			}
			cancel()
		}()
	}
	for _, ep := range m.endpoints {
		ep := ep
		run(func() error {
			return ep.Drain(ctx, func(data []byte) error { return m.Send(ep.Port, data) })
		})
	}
	run(func() error { return m.receive(ctx) })

	<-ctx.Done()
	m.Close()
	wg.Wait()
	return errs.Aggregate()
}

func (m *Mux) receive(ctx context.Context) error {
	for {
		pkt, err := m.ReadWriter.ReadPacket()
		if err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil
			}
			return err
		}
		m.rxPackets.Add(1)
		env, err := DecodeEnvelope(pkt)
		if err != nil {
			glog.Warningf("transport: bad envelope: %v", err)
			m.dropped.Add(1)
			continue
		}
		ep := m.endpoints[env.Port]
		if ep == nil {
			glog.Warningf("transport: %v %d", ErrUnknownPort, env.Port)
			m.dropped.Add(1)
			continue
		}
		switch err := ep.Deliver(ctx, env.Data); {
		case err == nil:
		case errors.Is(err, ErrPacketTooLarge):
			glog.Warningf("transport: port %d: %d bytes: %v", env.Port, len(env.Data), err)
			m.dropped.Add(1)
		default:
			return err
		}
	}
}

// Close implements io.Closer.
func (m *Mux) Close() error {
	if closer, ok := m.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
