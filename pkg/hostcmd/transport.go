// Package hostcmd carries host commands over a byte stream: reassembly of
// request packets on the device, the command engine and the host client.
package hostcmd

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/queue"
)

// State is the state of the transport.
type State int

// States.
const (
	ReadyToRx State = iota
	Receiving
	Processing
	Sending
	RxBad
)

func (s State) String() string {
	switch s {
	case ReadyToRx:
		return "ready_to_rx"
	case Receiving:
		return "receiving"
	case Processing:
		return "processing"
	case Sending:
		return "sending"
	case RxBad:
		return "rx_bad"
	}
	return "unknown"
}

// Packet is a complete request handed to the Engine. The engine fills
// Response[:ResponseSize] and calls SendResponse exactly once.
type Packet struct {
	Request      []byte
	Response     []byte
	ResponseSize int

	transport *Transport
}

// SendResponse streams the response back.
func (p *Packet) SendResponse() {
	p.transport.sendResponse(p)
}

// Engine processes complete requests. Receive is called from the receive
// notification and must not block.
type Engine interface {
	Receive(pkt *Packet)
}

// Config tunes a Transport.
type Config struct {
	MaxRequestSize  int
	MaxResponseSize int
	// ChunkSize bounds the bytes pushed per transmit callback.
	ChunkSize int
	// RequestTimeout drops a request not completed in time.
	RequestTimeout time.Duration
	// BadTimeout is how long input is discarded after a desync.
	BadTimeout time.Duration
}

// DefaultConfig is used by NewTransport.
var DefaultConfig = Config{
	MaxRequestSize:  DefaultMaxRequestSize,
	MaxResponseSize: DefaultMaxResponseSize,
	ChunkSize:       64,
	RequestTimeout:  150 * time.Millisecond,
	BadTimeout:      5 * time.Second,
}

// Stats counts transport events.
type Stats struct {
	Requests  uint64
	Responses uint64
	RxBad     uint64
	Underruns uint64
	Discarded uint64
}

// Transport reassembles requests from the receive queue and streams
// responses into the transmit queue.
type Transport struct {
	Config Config
	Engine Engine
	Time   fx.TimeSource

	consumer queue.Consumer
	producer queue.Producer
	timer    *fx.Deferred
	txWork   *fx.Deferred

	lock     sync.Mutex
	state    State
	in       []byte
	inLen    int
	expected int
	rxStart  time.Time
	badSince time.Time
	out      []byte
	outLen   int
	outPos   int

	requests  atomic.Uint64
	responses atomic.Uint64
	rxBad     atomic.Uint64
	underruns atomic.Uint64
	discarded atomic.Uint64
}

// NewTransport creates a Transport with DefaultConfig.
func NewTransport(engine Engine) *Transport {
	return NewTransportWith(DefaultConfig, engine)
}

// NewTransportWith creates a Transport.
func NewTransportWith(conf Config, engine Engine) *Transport {
	t := &Transport{
		Config: conf,
		Engine: engine,
		Time:   fx.SystemTime,
		in:     make([]byte, conf.MaxRequestSize),
		out:    make([]byte, conf.MaxResponseSize),
	}
	t.timer = fx.NewDeferred(t.checkTimeout)
	t.txWork = fx.NewDeferred(t.pushChunk)
	t.consumer.Ops = queue.WrittenFunc(t.written)
	t.producer.Ops = queue.WakeOnRead(t.txWork)
	return t
}

// Consumer is the handle for the receive queue.
func (t *Transport) Consumer() *queue.Consumer {
	return &t.consumer
}

// Producer is the handle for the transmit queue.
func (t *Transport) Producer() *queue.Producer {
	return &t.producer
}

// State returns the current state.
func (t *Transport) State() State {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.state
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Requests:  t.requests.Load(),
		Responses: t.responses.Load(),
		RxBad:     t.rxBad.Load(),
		Underruns: t.underruns.Load(),
		Discarded: t.discarded.Load(),
	}
}

// Reset returns to ReadyToRx, dropping anything in flight.
func (t *Transport) Reset() {
	t.timer.Cancel()
	t.txWork.Cancel()
	t.lock.Lock()
	t.reset()
	t.lock.Unlock()
}

// Discard drops everything buffered in the receive queue.
func (t *Transport) Discard() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.consumer.Queue == nil {
		return 0
	}
	n := queue.Discard(t.consumer.Queue)
	t.discarded.Add(uint64(n))
	return n
}

func (t *Transport) reset() {
	t.state = ReadyToRx
	t.inLen, t.expected = 0, 0
	t.outLen, t.outPos = 0, 0
}

func (t *Transport) bad(reason string) {
	glog.Warningf("hostcmd: %s, discarding input", reason)
	t.state = RxBad
	t.badSince = t.Time.Time()
	t.inLen, t.expected = 0, 0
	t.rxBad.Add(1)
	t.timer.Call(t.Config.BadTimeout)
}

// written drains the receive queue. It runs in the producer's context.
func (t *Transport) written(c *queue.Consumer, _ int) {
	var pkt *Packet
	for {
		chunk := c.Queue.ReadChunk()
		if chunk.Count == 0 {
			break
		}
		t.lock.Lock()
		if p := t.receive(chunk.Buffer); p != nil {
			pkt = p
		}
		c.Queue.AdvanceHead(chunk.Count)
		t.lock.Unlock()
	}
	if pkt != nil {
		t.requests.Add(1)
		t.Engine.Receive(pkt)
	}
}

func (t *Transport) receive(data []byte) *Packet {
	now := t.Time.Time()
	if t.state == RxBad {
		if now.Sub(t.badSince) < t.Config.BadTimeout {
			t.discarded.Add(uint64(len(data)))
			return nil
		}
		glog.Info("hostcmd: recovered from rx_bad")
		t.timer.Cancel()
		t.reset()
	}

	switch t.state {
	case Processing, Sending:
		glog.V(2).Infof("hostcmd: %d bytes ignored while %s", len(data), t.state)
		t.discarded.Add(uint64(len(data)))
		return nil
	case ReadyToRx:
		if data[0] != RequestVersion {
			t.bad("unsupported request version")
			t.discarded.Add(uint64(len(data)))
			return nil
		}
		t.state = Receiving
		t.rxStart = now
		t.timer.Call(t.Config.RequestTimeout)
	}

	if t.inLen+len(data) > len(t.in) {
		t.bad("request overflow")
		return nil
	}
	copy(t.in[t.inLen:], data)
	t.inLen += len(data)

	if t.expected == 0 && t.inLen >= RequestHeaderSize {
		t.expected = ExpectedSize(t.in[:RequestHeaderSize])
		if t.expected == 0 {
			t.bad("invalid request header")
			return nil
		}
		if t.expected > len(t.in) {
			t.bad("request too large")
			return nil
		}
	}
	if t.expected == 0 || t.inLen < t.expected {
		return nil
	}
	if t.inLen > t.expected {
		t.bad("request overrun")
		return nil
	}
	t.timer.Cancel()
	t.state = Processing
	glog.V(4).Infof("hostcmd: request of %d bytes", t.inLen)
	return &Packet{
		Request:   t.in[:t.inLen],
		Response:  t.out,
		transport: t,
	}
}

func (t *Transport) checkTimeout() {
	t.lock.Lock()
	defer t.lock.Unlock()
	elapsed := func(since time.Time, d time.Duration) bool {
		return t.Time.Time().Sub(since) >= d
	}
	switch t.state {
	case Receiving:
		if elapsed(t.rxStart, t.Config.RequestTimeout) {
			glog.Warningf("hostcmd: request underrun, %d/%d bytes", t.inLen, t.expected)
			t.underruns.Add(1)
			t.reset()
		}
	case RxBad:
		if elapsed(t.badSince, t.Config.BadTimeout) {
			glog.Info("hostcmd: rx_bad timeout, ready")
			t.reset()
		}
	}
}

func (t *Transport) sendResponse(pkt *Packet) {
	t.lock.Lock()
	if t.state != Processing {
		t.lock.Unlock()
		glog.Warningf("hostcmd: response dropped in %s", t.state)
		return
	}
	size := pkt.ResponseSize
	if size > len(t.out) {
		size = len(t.out)
	}
	t.state = Sending
	t.outLen, t.outPos = size, 0
	t.lock.Unlock()
	t.txWork.Wake()
}

// pushChunk moves the next chunk of the response into the transmit queue.
// It runs once per transmit-room notification. The transport is ready for
// the next request before the final chunk becomes visible to the host.
func (t *Transport) pushChunk() {
	t.lock.Lock()
	if t.state != Sending {
		t.lock.Unlock()
		return
	}
	end := t.outPos + t.Config.ChunkSize
	if end > t.outLen {
		end = t.outLen
	}
	chunk := t.out[t.outPos:end]
	q := t.producer.Queue
	final := end == t.outLen && q.Space() >= len(chunk)
	if final {
		t.responses.Add(1)
		t.reset()
	}
	t.lock.Unlock()

	added := q.AddUnits(chunk)
	if final {
		return
	}

	t.lock.Lock()
	if t.state == Sending {
		t.outPos += added
	}
	t.lock.Unlock()
}
