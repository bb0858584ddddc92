// Package stream exposes a pair of byte queues as an io.ReadWriter.
package stream

import (
	"context"
	"io"
	"sync"

	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/queue"
)

// Adaptor consumes an rx queue and produces into a tx queue. Both queues
// must have 1-byte units. Bind the handles with queue.Wire.
type Adaptor struct {
	// Ready is called whenever either queue notifies the adaptor. It runs in
	// the notifying context and must not block.
	Ready func()

	consumer queue.Consumer
	producer queue.Producer
	rxEvent  *fx.Event
	txEvent  *fx.Event

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates an Adaptor.
func New() *Adaptor {
	a := &Adaptor{
		rxEvent: fx.NewEvent(),
		txEvent: fx.NewEvent(),
		closed:  make(chan struct{}),
	}
	a.consumer.Ops = queue.WrittenFunc(a.written)
	a.producer.Ops = queue.ReadFunc(a.read)
	return a
}

// Consumer is the handle to wire as the consumer of the rx queue.
func (a *Adaptor) Consumer() *queue.Consumer {
	return &a.consumer
}

// Producer is the handle to wire as the producer of the tx queue.
func (a *Adaptor) Producer() *queue.Producer {
	return &a.producer
}

func (a *Adaptor) written(*queue.Consumer, int) {
	a.rxEvent.Wake()
	if fn := a.Ready; fn != nil {
		fn()
	}
}

func (a *Adaptor) read(*queue.Producer, int) {
	a.txEvent.Wake()
	if fn := a.Ready; fn != nil {
		fn()
	}
}

// TryRead reads what is buffered without blocking.
func (a *Adaptor) TryRead(p []byte) int {
	return a.consumer.Queue.RemoveUnits(p)
}

// TryWrite writes what fits without blocking.
func (a *Adaptor) TryWrite(p []byte) int {
	return a.producer.Queue.AddUnits(p)
}

// Read implements io.Reader. It blocks until at least one byte is available
// or the adaptor is closed.
func (a *Adaptor) Read(p []byte) (int, error) {
	return a.ReadContext(context.Background(), p)
}

// ReadContext is Read bounded by ctx.
func (a *Adaptor) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if n := a.TryRead(p); n > 0 {
			return n, nil
		}
		select {
		case <-a.rxEvent.C():
		case <-a.closed:
			if n := a.TryRead(p); n > 0 {
				return n, nil
			}
			return 0, io.EOF
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Write implements io.Writer. It blocks until all of p is queued or the
// adaptor is closed.
func (a *Adaptor) Write(p []byte) (int, error) {
	return a.WriteContext(context.Background(), p)
}

// WriteContext is Write bounded by ctx.
func (a *Adaptor) WriteContext(ctx context.Context, p []byte) (int, error) {
	written := 0
	for {
		select {
		case <-a.closed:
			return written, io.ErrClosedPipe
		default:
		}
		written += a.TryWrite(p[written:])
		if written == len(p) {
			return written, nil
		}
		select {
		case <-a.txEvent.C():
		case <-a.closed:
			return written, io.ErrClosedPipe
		case <-ctx.Done():
			return written, ctx.Err()
		}
	}
}

// Close unblocks pending reads and writes.
func (a *Adaptor) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}
