package dap

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/queue"
)

// Handler processes the request at the head of the queue. peek holds the
// first bytes of the request, starting with the command byte. A handler
// returns false, without consuming anything, while the request is
// incomplete. Otherwise it consumes the request with Consume and replies
// with Reply.
type Handler func(s *Session, peek []byte) bool

// Target is the debugged device behind the probe.
type Target interface {
	// Connect selects the debug port and returns the connected mode, or
	// ModeFailed.
	Connect(mode Mode) Mode
	Disconnect()
	// ResetTarget returns whether a reset was performed.
	ResetTarget() bool
	SetClock(hz uint32) error
}

// Config is reported by the Info commands.
type Config struct {
	Vendor           string
	Product          string
	Serial           string
	Version          string
	Capabilities     uint16
	GoogCapabilities uint16
	PacketCount      uint8
	PacketSize       uint16
}

// DefaultConfig is used by NewSession.
var DefaultConfig = Config{
	Vendor:           "robotalks",
	Product:          "ec.go CMSIS-DAP",
	Version:          "2.1.1",
	Capabilities:     CapJTAG,
	GoogCapabilities: GoogCapI2C,
	PacketCount:      1,
	PacketSize:       64,
}

// Stats counts session events.
type Stats struct {
	Commands  uint64
	Unknown   uint64
	Discarded uint64
}

// Session dispatches CMSIS-DAP requests. Wire Consumer to the request queue
// and Producer to the response queue, then Run it.
type Session struct {
	Config Config
	Target Target

	consumer queue.Consumer
	producer queue.Producer
	task     *fx.Task
	txRoom   *fx.Event

	// cancelLock guards cancel, which aborts a running Process on Reset.
	cancelLock sync.Mutex
	cancel     context.CancelFunc
	resetting  atomic.Int32

	lock  sync.Mutex
	table [256]Handler
	ctx   context.Context
	err   error
	cmd   Command
	peek  [PeekSize]byte
	rx    [MaxPacketSize]byte
	tx    [MaxPacketSize]byte

	commands  atomic.Uint64
	unknown   atomic.Uint64
	discarded atomic.Uint64
}

// NewSession creates a Session with the built-in commands.
func NewSession(target Target) *Session {
	s := &Session{
		Config: DefaultConfig,
		Target: target,
		txRoom: fx.NewEvent(),
	}
	s.task = fx.NewTask("cmsis-dap", func(ctx context.Context) {
		if err := s.Process(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("cmsis-dap: %v", err)
		}
	})
	s.consumer.Ops = queue.WakeOnWritten(s.task)
	s.producer.Ops = queue.WakeOnRead(s.txRoom)

	s.Handle(CmdInfo, handleInfo)
	s.Handle(CmdHostStatus, handleHostStatus)
	s.Handle(CmdConnect, handleConnect)
	s.Handle(CmdDisconnect, handleDisconnect)
	s.Handle(CmdTransferConfigure, handleTransferConfigure)
	s.Handle(CmdResetTarget, handleResetTarget)
	s.Handle(CmdSWJClock, handleSWJClock)
	s.Handle(CmdGoogInfo, handleGoogInfo)
	return s
}

// Handle installs the handler for cmd, nil removes it.
func (s *Session) Handle(cmd Command, h Handler) {
	s.lock.Lock()
	s.table[cmd] = h
	s.lock.Unlock()
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

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Commands:  s.commands.Load(),
		Unknown:   s.unknown.Load(),
		Discarded: s.discarded.Load(),
	}
}

// Reset discards partial requests and drops the target connection. A
// Process blocked on the response queue is aborted with context.Canceled.
func (s *Session) Reset() {
	s.resetting.Add(1)
	defer s.resetting.Add(-1)
	s.cancelLock.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelLock.Unlock()

	s.lock.Lock()
	defer s.lock.Unlock()
	if q := s.consumer.Queue; q != nil {
		s.discarded.Add(uint64(queue.Discard(q)))
	}
	if s.Target != nil {
		s.Target.Disconnect()
	}
}

// Process dispatches every complete request in the queue. It blocks while
// the response queue is full.
func (s *Session) Process(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelLock.Lock()
	if s.resetting.Load() > 0 {
		cancel()
	}
	s.cancel = cancel
	s.cancelLock.Unlock()
	defer func() {
		s.cancelLock.Lock()
		s.cancel = nil
		s.cancelLock.Unlock()
	}()

	s.lock.Lock()
	defer s.lock.Unlock()
	s.ctx, s.err = ctx, nil
	defer func() { s.ctx = nil }()

	rx := s.consumer.Queue
	for s.err == nil {
		n := rx.PeekUnits(s.peek[:], 0)
		if n == 0 {
			break
		}
		s.cmd = Command(s.peek[0])
		h := s.table[s.cmd]
		if h == nil {
			dropped := queue.Discard(rx)
			glog.Warningf("cmsis-dap: unknown %s, %d bytes dropped", s.cmd, dropped)
			s.unknown.Add(1)
			s.discarded.Add(uint64(dropped))
			break
		}
		head := rx.Head()
		if !h(s, s.peek[:n]) || rx.Head() == head {
			break
		}
		glog.V(4).Infof("cmsis-dap: %s", s.cmd)
		s.commands.Add(1)
	}
	return s.err
}

// Count is the number of request bytes available.
func (s *Session) Count() int {
	return s.consumer.Queue.Count()
}

// Peek copies n request bytes without consuming them.
func (s *Session) Peek(n int) []byte {
	n = s.consumer.Queue.PeekUnits(s.rx[:n], 0)
	return s.rx[:n]
}

// Consume removes n request bytes and returns them.
func (s *Session) Consume(n int) []byte {
	n = s.consumer.Queue.RemoveUnits(s.rx[:n])
	return s.rx[:n]
}

// Reply queues a response: the command byte followed by data.
func (s *Session) Reply(data ...byte) {
	s.tx[0] = byte(s.cmd)
	n := 1 + copy(s.tx[1:], data)
	if _, err := queue.BlockingAdd(s.ctx, s.producer.Queue, s.tx[:n], s.txRoom); err != nil {
		s.err = err
	}
}

func (s *Session) replyString(str string) {
	b := append([]byte{byte(len(str) + 1)}, str...)
	s.Reply(append(b, 0)...)
}

func handleInfo(s *Session, peek []byte) bool {
	if len(peek) < 2 {
		return false
	}
	req := s.Consume(2)
	conf := &s.Config
	switch InfoID(req[1]) {
	case InfoVendor:
		s.replyString(conf.Vendor)
	case InfoProduct:
		s.replyString(conf.Product)
	case InfoSerial:
		s.replyString(conf.Serial)
	case InfoVersion:
		s.replyString(conf.Version)
	case InfoCapabilities:
		s.Reply(binary.LittleEndian.AppendUint16([]byte{2}, conf.Capabilities)...)
	case InfoPacketCount:
		s.Reply(1, conf.PacketCount)
	case InfoPacketSize:
		s.Reply(binary.LittleEndian.AppendUint16([]byte{2}, conf.PacketSize)...)
	default:
		s.Reply(0)
	}
	return true
}

func handleHostStatus(s *Session, peek []byte) bool {
	if len(peek) < 3 {
		return false
	}
	s.Consume(3)
	s.Reply(StatusOK)
	return true
}

func handleConnect(s *Session, peek []byte) bool {
	if len(peek) < 2 {
		return false
	}
	req := s.Consume(2)
	mode := ModeFailed
	if s.Target != nil {
		mode = s.Target.Connect(Mode(req[1]))
	}
	s.Reply(byte(mode))
	return true
}

func handleDisconnect(s *Session, _ []byte) bool {
	s.Consume(1)
	if s.Target != nil {
		s.Target.Disconnect()
	}
	s.Reply(StatusOK)
	return true
}

// The transfer family is not supported; the configuration is accepted so
// debuggers can complete their setup.
func handleTransferConfigure(s *Session, peek []byte) bool {
	if len(peek) < 6 {
		return false
	}
	s.Consume(6)
	s.Reply(StatusOK)
	return true
}

func handleResetTarget(s *Session, _ []byte) bool {
	s.Consume(1)
	var executed byte
	if s.Target != nil && s.Target.ResetTarget() {
		executed = 1
	}
	s.Reply(StatusOK, executed)
	return true
}

func handleSWJClock(s *Session, peek []byte) bool {
	if len(peek) < 5 {
		return false
	}
	req := s.Consume(5)
	hz := binary.LittleEndian.Uint32(req[1:])
	status := byte(StatusOK)
	if s.Target == nil || s.Target.SetClock(hz) != nil {
		status = StatusError
	}
	s.Reply(status)
	return true
}

func handleGoogInfo(s *Session, peek []byte) bool {
	if len(peek) < 2 {
		return false
	}
	req := s.Consume(2)
	if req[1] == GoogInfoCapabilities {
		s.Reply(binary.LittleEndian.AppendUint16([]byte{2}, s.Config.GoogCapabilities)...)
	}
	return true
}
