package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/ec.go/pkg/transport"
)

const (
	// DefaultTimeout is the resync timeout.
	DefaultTimeout = 100 * time.Millisecond
	// DefaultMaxPacketSize bounds reassembled packets.
	DefaultMaxPacketSize = 4096
)

// ErrClosed is returned on a closed Link.
var ErrClosed = errors.New("serial link closed")

// Link is a transport.PacketReadWriter over a raw byte stream. Run must be
// running for the link to synchronize and receive packets.
type Link struct {
	ReadWriter    io.ReadWriter
	Timeout       time.Duration
	MaxPacketSize int

	lock    sync.Mutex
	seq     Seq
	state   State
	readyCh chan struct{}

	parser    Parser
	partial   []byte
	skipping  bool
	syncTimer <-chan time.Time

	packetCh  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.PacketReadWriter = &Link{}

// New creates a Link.
func New(rw io.ReadWriter) *Link {
	return &Link{
		ReadWriter:    rw,
		Timeout:       DefaultTimeout,
		MaxPacketSize: DefaultMaxPacketSize,
		seq:           NewSeq(),
		readyCh:       make(chan struct{}),
		packetCh:      make(chan []byte, 16),
		done:          make(chan struct{}),
	}
}

// State gets the state.
func (l *Link) State() State {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.state
}

// Ready returns a chan closed once the link is synchronized.
func (l *Link) Ready() <-chan struct{} {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.readyCh
}

// WritePacket implements transport.PacketWriter. It waits for the link to
// synchronize.
func (l *Link) WritePacket(pkt []byte) error {
	if len(pkt) > l.MaxPacketSize {
		return transport.ErrPacketTooLarge
	}
	for {
		l.lock.Lock()
		if l.state.IsReady() {
			err := l.writeFrames(pkt)
			l.lock.Unlock()
			return err
		}
		ready := l.readyCh
		l.lock.Unlock()
		select {
		case <-ready:
		case <-l.done:
			return ErrClosed
		}
	}
}

func (l *Link) writeFrames(pkt []byte) error {
	for _, f := range Split(pkt) {
		f.Seq = l.seq
		if _, err := f.WriteTo(l.ReadWriter); err != nil {
			return err
		}
		l.seq = l.seq.Next()
	}
	return nil
}

// ReadPacket implements transport.PacketReader.
func (l *Link) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-l.packetCh:
		return pkt, nil
	case <-l.done:
		return nil, io.EOF
	}
}

// Close implements io.Closer. It also closes the byte stream.
func (l *Link) Close() (err error) {
	l.closeOnce.Do(func() {
		close(l.done)
		if closer, ok := l.ReadWriter.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return
}

// Name implements framework.Named.
func (l *Link) Name() string {
	return "serial"
}

// Run synchronizes and receives until ctx ends or the stream fails. The
// link is closed when Run returns.
func (l *Link) Run(ctx context.Context) error {
	defer l.Close()
	if err := l.apply(l.parser.Reset()); err != nil {
		return err
	}

	byteCh, errCh := make(chan byte), make(chan error, 1)
	go l.readLoop(byteCh, errCh)
	for {
		var err error
		select {
		case b := <-byteCh:
			err = l.apply(l.parser.Parse(b))
		case err = <-errCh:
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.syncTimer:
			err = l.apply(l.parser.Timeout())
		}
		if err != nil {
			return err
		}
	}
}

func (l *Link) readLoop(byteCh chan<- byte, errCh chan<- error) {
	buf := make([]byte, 64)
	for {
		n, err := l.ReadWriter.Read(buf)
		for _, b := range buf[:n] {
			select {
			case byteCh <- b:
			case <-l.done:
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

func (l *Link) apply(r Result) error {
	l.lock.Lock()
	if l.state != r.State {
		glog.V(3).Infof("serial: %s -> %s", l.state, r.State)
		switch {
		case r.State.IsReady() && !l.state.IsReady():
			close(l.readyCh)
		case !r.State.IsReady() && l.state.IsReady():
			l.readyCh = make(chan struct{})
		}
		if !r.State.IsReady() {
			l.partial, l.skipping = nil, false
		}
		l.state = r.State
	}
	var err error
	if r.Sync != 0 {
		_, err = l.ReadWriter.Write([]byte{r.Sync, byte(l.seq)})
	}
	l.lock.Unlock()
	if err != nil {
		return err
	}

	switch r.Timer() {
	case TimerRestart:
		l.syncTimer = time.After(l.Timeout)
	case TimerStop:
		l.syncTimer = nil
	}
	if r.Frame != nil {
		l.reassemble(r.Frame)
	}
	return nil
}

func (l *Link) reassemble(f *Frame) {
	more := f.Flags&FlagMore != 0
	if l.skipping {
		l.skipping = more
		return
	}
	l.partial = append(l.partial, f.Data...)
	if len(l.partial) > l.MaxPacketSize {
		glog.Warningf("serial: dropped packet over %d bytes", l.MaxPacketSize)
		l.partial, l.skipping = nil, more
		return
	}
	if more {
		return
	}
	pkt := l.partial
	l.partial = nil
	if pkt == nil {
		pkt = []byte{}
	}
	select {
	case l.packetCh <- pkt:
	case <-l.done:
	}
}
