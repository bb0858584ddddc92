package ec

import (
	"context"

	"github.com/robotalks/ec.go/pkg/dap"
	"github.com/robotalks/ec.go/pkg/hostcmd"
	"github.com/robotalks/ec.go/pkg/i2cbridge"
	"github.com/robotalks/ec.go/pkg/queue"
	"github.com/robotalks/ec.go/pkg/stream"
	"github.com/robotalks/ec.go/pkg/transport"
	"github.com/robotalks/ec.go/pkg/update"
)

// HostQueueSize is the size of the host side queues.
const HostQueueSize = 2048

// Link is the host side of a device link. Each port is exposed as a byte
// stream with a protocol client on top.
type Link struct {
	Mux *transport.Mux

	Update  *update.Client
	HostCmd *hostcmd.Client
	I2C     *i2cbridge.Client
	DAP     *dap.Client

	streams map[uint32]*stream.Adaptor
}

// NewLink creates a Link over rw. Run must be running for the clients to
// work.
func NewLink(rw transport.PacketReadWriter) *Link {
	l := &Link{streams: make(map[uint32]*stream.Adaptor)}
	var endpoints []*transport.Endpoint
	for _, port := range []uint32{PortUpdate, PortHostCmd, PortI2C, PortDAP} {
		ep := transport.NewEndpoint(port, transport.DefaultPacketSize)
		s := stream.New()
		queue.Wire(queue.New(HostQueueSize, 1, nil), ep.Producer(), s.Consumer())
		queue.Wire(queue.New(HostQueueSize, 1, nil), s.Producer(), ep.Consumer())
		l.streams[port] = s
		endpoints = append(endpoints, ep)
	}
	l.Mux = transport.NewMux(rw, endpoints...)
	l.Update = update.NewClient(l.streams[PortUpdate])
	l.HostCmd = hostcmd.NewClient(l.streams[PortHostCmd])
	l.I2C = i2cbridge.NewClient(l.streams[PortI2C])
	l.DAP = dap.NewClient(l.streams[PortDAP])
	return l
}

// Stream returns the byte stream of a port.
func (l *Link) Stream(port uint32) *stream.Adaptor {
	return l.streams[port]
}

// Name implements framework.Named.
func (l *Link) Name() string {
	return "link"
}

// Run implements framework.Runnable. The port streams are closed when the
// link stops.
func (l *Link) Run(ctx context.Context) error {
	defer l.closeStreams()
	return l.Mux.Run(ctx)
}

// Close closes the link.
func (l *Link) Close() error {
	l.closeStreams()
	return l.Mux.Close()
}

func (l *Link) closeStreams() {
	for _, s := range l.streams {
		s.Close()
	}
}
