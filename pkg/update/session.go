// Package update implements the firmware update transfer: reassembly of
// update blocks arriving in transport-sized packets on the device side and
// the matching host-side client.
package update

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/queue"
	"github.com/robotalks/ec.go/pkg/sharedmem"
)

// State is the reassembly state.
type State int

// States of the session.
const (
	Idle State = iota
	OutsideBlock
	InsideBlock
	AwaitingReset
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OutsideBlock:
		return "outside_block"
	case InsideBlock:
		return "inside_block"
	case AwaitingReset:
		return "awaiting_reset"
	}
	return "unknown"
}

// Block is a fully reassembled block.
type Block struct {
	Digest uint32
	Base   uint32
	Data   []byte
}

// Engine is the flashing engine behind the session.
type Engine interface {
	// Start prepares a session. A non-zero ReturnValue rejects it.
	Start(digest, base uint32) FirstResponse
	// Write verifies and programs one block.
	Write(blk Block) Status
}

// ExtraHandler processes extra commands. The returned bytes are sent back
// as the response.
type ExtraHandler interface {
	HandleExtra(cmd ExtraCommand, body []byte) []byte
}

// ExtraHandlerFunc is the func form of ExtraHandler.
type ExtraHandlerFunc func(cmd ExtraCommand, body []byte) []byte

// HandleExtra implements ExtraHandler.
func (f ExtraHandlerFunc) HandleExtra(cmd ExtraCommand, body []byte) []byte {
	return f(cmd, body)
}

// Resetter resets the device.
type Resetter interface {
	Reset()
}

// ResetFunc is the func form of Resetter.
type ResetFunc func()

// Reset implements Resetter.
func (f ResetFunc) Reset() {
	f()
}

// Config tunes a Session.
type Config struct {
	// BlockTimeout drops a block which has not progressed for this long.
	BlockTimeout time.Duration
	// SilentStall drops a block without any response when no scratch
	// buffer is available, instead of replying MallocError.
	SilentStall bool
}

// DefaultConfig is used by NewSession.
var DefaultConfig = Config{
	BlockTimeout: 5 * time.Second,
}

// Stats counts session events.
type Stats struct {
	Sessions uint64
	Blocks   uint64
	Failures uint64
	Dropped  uint64
}

// Session reassembles update blocks. Wire Consumer to the queue receiving
// packets and Producer to the queue sending responses. Receive-side
// notifications only schedule processing, which runs in a Deferred.
type Session struct {
	Config   Config
	Engine   Engine
	Extra    ExtraHandler
	Resetter Resetter
	Pool     *sharedmem.Pool
	Time     fx.TimeSource

	consumer queue.Consumer
	producer queue.Producer
	work     *fx.Deferred

	// lock guards the reassembly state below.
	lock     sync.Mutex
	state    State
	hdr      Header
	block    []byte
	draining bool
	received int
	lastRx   time.Time
	pkt      []byte

	sessions atomic.Uint64
	blocks   atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

// NewSession creates a Session.
func NewSession(engine Engine, pool *sharedmem.Pool, resetter Resetter) *Session {
	s := &Session{
		Config:   DefaultConfig,
		Engine:   engine,
		Resetter: resetter,
		Pool:     pool,
		Time:     fx.SystemTime,
	}
	s.work = fx.NewDeferred(s.process)
	s.consumer.Ops = queue.WakeOnWritten(s.work)
	return s
}

// Consumer is the handle for the receive queue.
func (s *Session) Consumer() *queue.Consumer {
	return &s.consumer
}

// Producer is the handle for the response queue.
func (s *Session) Producer() *queue.Producer {
	return &s.producer
}

// State returns the current state. Only meaningful between packets.
func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Sessions: s.sessions.Load(),
		Blocks:   s.blocks.Load(),
		Failures: s.failures.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Reset drops any block in progress and returns to Idle. Data already
// buffered in the receive queue is kept and processed afterwards.
func (s *Session) Reset() {
	s.lock.Lock()
	s.releaseBlock()
	s.state = Idle
	s.lock.Unlock()
	if q := s.consumer.Queue; q != nil && !q.Empty() {
		s.work.Wake()
	}
}

// Discard drops everything buffered in the receive queue.
func (s *Session) Discard() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.consumer.Queue == nil {
		return 0
	}
	return queue.Discard(s.consumer.Queue)
}

// Process handles whatever is buffered. It is normally run by the
// deferred call scheduled from the receive notification.
func (s *Session) Process() {
	s.work.Cancel()
	s.process()
}

func (s *Session) process() {
	s.lock.Lock()
	defer s.lock.Unlock()
	q := s.consumer.Queue
	count := q.Count()
	if count == 0 {
		return
	}
	if cap(s.pkt) < count {
		s.pkt = make([]byte, count)
	}
	pkt := s.pkt[:count]
	count = q.RemoveUnits(pkt)
	pkt = pkt[:count]

	now := s.Time.Time()
	if s.state == InsideBlock && s.Config.BlockTimeout > 0 && now.Sub(s.lastRx) > s.Config.BlockTimeout {
		glog.Warningf("update: block at %#x stalled, dropped", s.hdr.Base)
		s.dropped.Add(1)
		s.releaseBlock()
		s.state = Idle
	}
	s.lastRx = now

	glog.V(4).Infof("update: %s rx %d bytes", s.state, count)
	switch s.state {
	case AwaitingReset:
		glog.Info("update: resetting")
		if s.Resetter != nil {
			s.Resetter.Reset()
		}
	case Idle:
		s.handleStart(pkt)
	case OutsideBlock:
		s.handleOutside(pkt)
	case InsideBlock:
		s.handleInside(pkt)
	}
}

func (s *Session) handleStart(pkt []byte) {
	hdr, err := ParseHeader(pkt)
	if err == nil && hdr.Base == ExtraCmdMarker {
		s.handleExtra(hdr, pkt[HeaderSize:])
		return
	}
	if err != nil || len(pkt) != HeaderSize || hdr.BlockSize != HeaderSize {
		glog.Warningf("update: bad start request, %d bytes", len(pkt))
		s.failures.Add(1)
		s.reply([]byte{byte(GenError)})
		return
	}
	resp := s.Engine.Start(hdr.Digest, hdr.Base)
	if resp.ReturnValue != 0 {
		glog.Warningf("update: start rejected: %s", Status(resp.ReturnValue))
		s.failures.Add(1)
		s.reply(binary.BigEndian.AppendUint32(nil, resp.ReturnValue))
		return
	}
	s.sessions.Add(1)
	s.state = OutsideBlock
	s.reply(resp.Encode())
}

func (s *Session) handleOutside(pkt []byte) {
	if len(pkt) == 4 {
		if binary.BigEndian.Uint32(pkt) == DoneMarker {
			glog.Info("update: done")
			s.state = AwaitingReset
			s.reply([]byte{byte(Success)})
			return
		}
		s.reply([]byte{byte(GenError)})
		return
	}
	hdr, err := ParseHeader(pkt)
	if err != nil {
		glog.Warningf("update: protocol error, %d bytes outside block", len(pkt))
		s.failures.Add(1)
		s.state = Idle
		return
	}
	if hdr.Base == ExtraCmdMarker {
		s.handleExtra(hdr, pkt[HeaderSize:])
		return
	}
	size := hdr.PayloadSize()
	if size <= 0 {
		glog.Warningf("update: empty block at %#x", hdr.Base)
		s.failures.Add(1)
		s.reply([]byte{byte(GenError)})
		return
	}
	s.hdr = hdr
	s.received = 0
	block, err := s.Pool.Acquire(size)
	if err != nil {
		glog.Errorf("update: scratch for %d bytes: %v", size, err)
		s.failures.Add(1)
		if s.Config.SilentStall {
			return
		}
		s.draining = true
	}
	s.block = block
	s.state = InsideBlock
	s.handleInside(pkt[HeaderSize:])
}

func (s *Session) handleInside(data []byte) {
	remaining := s.hdr.PayloadSize() - s.received
	if len(data) > remaining {
		glog.Warningf("update: %d extra bytes after block", len(data)-remaining)
		data = data[:remaining]
	}
	if !s.draining {
		copy(s.block[s.received:], data)
	}
	s.received += len(data)
	if s.received < s.hdr.PayloadSize() {
		return
	}

	var status Status
	if s.draining {
		status = MallocError
	} else {
		status = s.Engine.Write(Block{Digest: s.hdr.Digest, Base: s.hdr.Base, Data: s.block})
	}
	s.releaseBlock()
	if status == Success {
		s.blocks.Add(1)
	} else {
		glog.Warningf("update: block at %#x: %s", s.hdr.Base, status)
		s.failures.Add(1)
	}
	s.state = OutsideBlock
	s.reply([]byte{byte(status)})
}

func (s *Session) handleExtra(hdr Header, body []byte) {
	if int(hdr.BlockSize) != HeaderSize+len(body) || len(body) < 2 {
		s.failures.Add(1)
		s.reply([]byte{byte(GenError)})
		return
	}
	cmd := ExtraCommand(binary.BigEndian.Uint16(body))
	glog.V(2).Infof("update: extra command %d", cmd)
	if cmd == ExtraImmediateReset {
		s.reply([]byte{0})
		if s.Resetter != nil {
			s.Resetter.Reset()
		}
		return
	}
	if s.Extra == nil {
		// EC_RES_INVALID_COMMAND
		s.reply([]byte{1})
		return
	}
	s.reply(s.Extra.HandleExtra(cmd, body[2:]))
}

func (s *Session) releaseBlock() {
	if s.block != nil {
		if err := s.Pool.Release(s.block); err != nil {
			glog.Errorf("update: release scratch: %v", err)
		}
		s.block = nil
	}
	s.draining = false
	s.received = 0
}

func (s *Session) reply(resp []byte) {
	q := s.producer.Queue
	if n := q.AddUnits(resp); n != len(resp) {
		glog.Errorf("update: response truncated %d/%d", n, len(resp))
	}
}
