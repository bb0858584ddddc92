package hostcmd

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// Args is passed to a command handler.
type Args struct {
	Command Command
	Version uint8
	Params  []byte
	// Response is the buffer for response data; set ResponseSize to the
	// number of bytes used.
	Response     []byte
	ResponseSize int
}

// HandlerFunc implements a host command.
type HandlerFunc func(args *Args) Result

// Dispatcher is the command engine. Received packets are queued and
// processed by Run.
type Dispatcher struct {
	pending chan *Packet

	lock     sync.RWMutex
	handlers map[Command]HandlerFunc
}

// DefaultPending is the number of packets queued before replying busy.
const DefaultPending = 8

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pending:  make(chan *Packet, DefaultPending),
		handlers: make(map[Command]HandlerFunc),
	}
}

// Register installs the handler for cmd.
func (d *Dispatcher) Register(cmd Command, fn HandlerFunc) *Dispatcher {
	d.lock.Lock()
	d.handlers[cmd] = fn
	d.lock.Unlock()
	return d
}

// Name implements framework.Named.
func (d *Dispatcher) Name() string {
	return "hostcmd"
}

// Receive implements Engine.
func (d *Dispatcher) Receive(pkt *Packet) {
	select {
	case d.pending <- pkt:
	default:
		glog.Warning("hostcmd: engine busy")
		reply(pkt, ResBusy, 0)
	}
}

// Run implements framework.Runnable.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-d.pending:
			d.Process(pkt)
		}
	}
}

// Process executes the request in pkt and sends the response.
func (d *Dispatcher) Process(pkt *Packet) {
	req, res := ParseRequest(pkt.Request)
	if res != ResSuccess {
		glog.Warningf("hostcmd: bad request: %s", res)
		reply(pkt, res, 0)
		return
	}
	d.lock.RLock()
	fn := d.handlers[req.Command]
	d.lock.RUnlock()
	if fn == nil {
		glog.V(2).Infof("hostcmd: unknown command 0x%04x", uint16(req.Command))
		reply(pkt, ResInvalidCommand, 0)
		return
	}
	args := &Args{
		Command:  req.Command,
		Version:  req.Version,
		Params:   req.Params,
		Response: pkt.Response[ResponseHeaderSize:],
	}
	res = fn(args)
	size := args.ResponseSize
	if size > len(args.Response) || size < 0 {
		res, size = ResResponseTooBig, 0
	}
	if res != ResSuccess {
		size = 0
	}
	glog.V(4).Infof("hostcmd: 0x%04x v%d -> %s", uint16(req.Command), req.Version, res)
	reply(pkt, res, size)
}

func reply(pkt *Packet, res Result, dataLen int) {
	pkt.ResponseSize = PutResponse(pkt.Response, res, dataLen)
	pkt.SendResponse()
}
