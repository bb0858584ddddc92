package i2cbridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/queue"
)

// Bus performs I2C transactions: write out, then read len(in) bytes.
type Bus interface {
	Xfer(port int, addr uint8, out, in []byte) error
}

// XferFunc is the func form of Bus.
type XferFunc func(port int, addr uint8, out, in []byte) error

// Xfer implements Bus.
func (f XferFunc) Xfer(port int, addr uint8, out, in []byte) error {
	return f(port, addr, out, in)
}

// Config tunes a Session.
type Config struct {
	// Ports is the number of valid ports.
	Ports         int
	MaxWriteCount int
	MaxReadCount  int
}

// DefaultConfig is used by NewSession.
var DefaultConfig = Config{
	Ports:         1,
	MaxWriteCount: 60,
	MaxReadCount:  60,
}

// Stats counts session events.
type Stats struct {
	Frames    uint64
	Errors    uint64
	Discarded uint64
}

// Session executes bridged I2C frames. Wire Consumer to the queue receiving
// requests and Producer to the queue sending responses, then Run it.
type Session struct {
	Config Config
	Bus    Bus

	consumer queue.Consumer
	producer queue.Producer
	task     *fx.Task
	enabled  atomic.Bool

	lock  sync.Mutex
	hdr   [ExtHeaderSize]byte
	frame []byte
	in    []byte

	frames    atomic.Uint64
	errors    atomic.Uint64
	discarded atomic.Uint64
}

// NewSession creates an enabled Session with DefaultConfig.
func NewSession(bus Bus) *Session {
	return NewSessionWith(DefaultConfig, bus)
}

// NewSessionWith creates an enabled Session.
func NewSessionWith(conf Config, bus Bus) *Session {
	s := &Session{Config: conf, Bus: bus}
	s.task = fx.NewTask("i2c", func(context.Context) { s.Process() })
	s.consumer.Ops = queue.WakeOnWritten(s.task)
	s.producer.Ops = queue.WakeOnRead(s.task)
	s.enabled.Store(true)
	return s
}

// Consumer is the handle for the request queue.
func (s *Session) Consumer() *queue.Consumer {
	return &s.consumer
}

// Producer is the handle for the response queue.
func (s *Session) Producer() *queue.Producer {
	return &s.producer
}

// Name implements framework.Named.
func (s *Session) Name() string {
	return s.task.Name()
}

// Run implements framework.Runnable.
func (s *Session) Run(ctx context.Context) error {
	return s.task.Run(ctx)
}

// SetEnabled enables or disables the bridge. A disabled bridge consumes
// frames and replies Disabled.
func (s *Session) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:    s.frames.Load(),
		Errors:    s.errors.Load(),
		Discarded: s.discarded.Load(),
	}
}

// Reset drops any partial frame.
func (s *Session) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if q := s.consumer.Queue; q != nil {
		s.discarded.Add(uint64(queue.Discard(q)))
	}
}

// Process executes every complete frame in the request queue for which
// the response queue has room.
func (s *Session) Process() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for s.processFrame() {
	}
}

func (s *Session) maxReadCount() int {
	n := s.Config.MaxReadCount
	if room := s.producer.Queue.Capacity() - StatusSize; n > room {
		n = room
	}
	return n
}

func (s *Session) processFrame() bool {
	rx, tx := s.consumer.Queue, s.producer.Queue
	n := rx.PeekUnits(s.hdr[:], 0)
	hdr, ok := ParseHeader(s.hdr[:n])
	if !ok {
		return false
	}

	if hdr.WriteCount > s.Config.MaxWriteCount || hdr.FrameSize() > rx.Capacity() {
		if tx.Space() < StatusSize {
			return false
		}
		// The frame boundary is unknown, drop everything.
		dropped := queue.Discard(rx)
		glog.Warningf("i2c: write count %d invalid, %d bytes dropped", hdr.WriteCount, dropped)
		s.discarded.Add(uint64(dropped))
		s.reply(WriteCountInvalid, nil)
		return false
	}
	if rx.Count() < hdr.FrameSize() {
		return false
	}

	readable := hdr.ReadCount <= s.maxReadCount()
	need := StatusSize
	if readable {
		need += hdr.ReadCount
	}
	if tx.Space() < need {
		return false
	}

	if len(s.frame) < hdr.FrameSize() {
		s.frame = make([]byte, hdr.FrameSize())
	}
	frame := s.frame[:hdr.FrameSize()]
	rx.RemoveUnits(frame)
	s.frames.Add(1)

	status := Success
	switch {
	case !s.enabled.Load():
		status = Disabled
	case hdr.WriteCount == 0 && hdr.ReadCount == 0:
		// No-op transfer on any port.
		s.reply(Success, nil)
		return true
	case hdr.Port >= s.Config.Ports:
		status = PortInvalid
	case !readable:
		status = ReadCountInvalid
	case s.Bus == nil:
		status = MissingHandler
	}
	if status != Success {
		s.reply(status, nil)
		return true
	}

	if len(s.in) < hdr.ReadCount {
		s.in = make([]byte, hdr.ReadCount)
	}
	in := s.in[:hdr.ReadCount]
	err := s.Bus.Xfer(hdr.Port, hdr.Addr, frame[hdr.Size:], in)
	if status = StatusOf(err); status != Success {
		glog.V(2).Infof("i2c: port %d addr 0x%02x: %v", hdr.Port, hdr.Addr, err)
		s.reply(status, nil)
		return true
	}
	glog.V(4).Infof("i2c: port %d addr 0x%02x wrote %d read %d", hdr.Port, hdr.Addr, hdr.WriteCount, hdr.ReadCount)
	s.reply(Success, in)
	return true
}

func (s *Session) reply(status Status, data []byte) {
	if status != Success {
		s.errors.Add(1)
	}
	s.producer.Queue.AddUnits(EncodeResponse(status, data))
}
