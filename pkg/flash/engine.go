package flash

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/ec.go/pkg/update"
)

// ProtectRONow is reported in the first response while the read-only
// section is protected.
const ProtectRONow uint32 = 1 << 1

// Config describes the flash layout and the identity reported to the
// updater.
type Config struct {
	// ROSize is the size of the read-only section at the start of flash.
	// The read-write section takes the rest.
	ROSize      uint32
	MaxPDUSize  uint32
	Version     string
	MinRollback int32
	KeyVersion  uint32
	// ProtectRO makes the read-only section unwritable.
	ProtectRO bool
}

// DefaultConfig is used by NewEngine.
var DefaultConfig = Config{
	ROSize:     0x20000,
	MaxPDUSize: 1024,
	Version:    "ec.go_v1.0.0",
	ProtectRO:  true,
}

// DefaultSize is the default flash size.
const DefaultSize = 0x40000

// Stats counts engine events.
type Stats struct {
	Sessions uint64
	Blocks   uint64
	Bytes    uint64
	Failures uint64
}

// Engine programs update blocks into a Store. It implements update.Engine
// and update.ExtraHandler.
type Engine struct {
	Config Config
	Store  Store

	lock     sync.Mutex
	unlocked bool
	readback []byte

	sessions atomic.Uint64
	blocks   atomic.Uint64
	bytes    atomic.Uint64
	failures atomic.Uint64
}

// NewEngine creates an Engine with DefaultConfig.
func NewEngine(store Store) *Engine {
	return &Engine{Config: DefaultConfig, Store: store}
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Sessions: e.sessions.Load(),
		Blocks:   e.blocks.Load(),
		Bytes:    e.bytes.Load(),
		Failures: e.failures.Load(),
	}
}

func (e *Engine) protected() bool {
	return e.Config.ProtectRO && !e.unlocked
}

// writableStart is the first address an update may write.
func (e *Engine) writableStart() uint32 {
	if e.protected() {
		return e.Config.ROSize
	}
	return 0
}

// Start implements update.Engine.
func (e *Engine) Start(digest, base uint32) update.FirstResponse {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.sessions.Add(1)
	var prot uint32
	if e.protected() {
		prot = ProtectRONow
	}
	return update.FirstResponse{
		HeaderType:      update.HeaderTypeCommon,
		ProtocolVersion: update.ProtocolVersion,
		MaxPDUSize:      e.Config.MaxPDUSize,
		FlashProtection: prot,
		Offset:          e.writableStart(),
		Version:         e.Config.Version,
		MinRollback:     e.Config.MinRollback,
		KeyVersion:      e.Config.KeyVersion,
	}
}

// Write implements update.Engine.
func (e *Engine) Write(blk update.Block) update.Status {
	status := e.write(blk)
	if status != update.Success {
		e.failures.Add(1)
		glog.Warningf("flash: block %#x+%d: %s", blk.Base, len(blk.Data), status)
	}
	return status
}

func (e *Engine) write(blk update.Block) update.Status {
	e.lock.Lock()
	defer e.lock.Unlock()

	end := int64(blk.Base) + int64(len(blk.Data))
	if end > e.Store.Size() {
		return update.BadAddr
	}
	if blk.Digest != 0 && update.BlockDigest(blk.Base, blk.Data) != blk.Digest {
		return update.DataError
	}
	if blk.Base < e.writableStart() {
		return update.WriteFailure
	}
	if _, err := e.Store.WriteAt(blk.Data, int64(blk.Base)); err != nil {
		glog.Errorf("flash: write %#x: %v", blk.Base, err)
		return update.WriteFailure
	}
	if cap(e.readback) < len(blk.Data) {
		e.readback = make([]byte, len(blk.Data))
	}
	rb := e.readback[:len(blk.Data)]
	if _, err := e.Store.ReadAt(rb, int64(blk.Base)); err != nil || !bytes.Equal(rb, blk.Data) {
		return update.VerifyError
	}
	e.blocks.Add(1)
	e.bytes.Add(uint64(len(blk.Data)))
	glog.V(4).Infof("flash: wrote %d bytes at %#x", len(blk.Data), blk.Base)
	return update.Success
}

// HandleExtra implements update.ExtraHandler.
func (e *Engine) HandleExtra(cmd update.ExtraCommand, body []byte) []byte {
	switch cmd {
	case update.ExtraUnlockRW:
		e.lock.Lock()
		e.unlocked = true
		e.lock.Unlock()
		glog.Info("flash: write protection cleared")
	case update.ExtraJumpToRW, update.ExtraStayInRO:
	default:
		return []byte{byte(update.GenError)}
	}
	return []byte{byte(update.Success)}
}

// Read reads flash content.
func (e *Engine) Read(p []byte, off int64) (int, error) {
	return e.Store.ReadAt(p, off)
}
