package queue

import "context"

// Policy couples the two sides of a queue. The hooks run synchronously in
// whatever context mutated the queue, which may be interrupt context, so
// they must not block.
type Policy interface {
	// AddNotify is called after count units were added.
	AddNotify(q *Queue, count int)
	// RemoveNotify is called after count units were removed.
	RemoveNotify(q *Queue, count int)
}

type nullPolicy struct{}

func (nullPolicy) AddNotify(*Queue, int)    {}
func (nullPolicy) RemoveNotify(*Queue, int) {}

// NullPolicy ignores all notifications.
var NullPolicy Policy = nullPolicy{}

// Direct forwards added units to the consumer and removed units to the
// producer.
type Direct struct {
	Producer *Producer
	Consumer *Consumer
}

// AddNotify implements Policy.
func (p *Direct) AddNotify(_ *Queue, count int) {
	if c := p.Consumer; c != nil && c.Ops != nil {
		c.Ops.Written(c, count)
	}
}

// RemoveNotify implements Policy.
func (p *Direct) RemoveNotify(_ *Queue, count int) {
	if pr := p.Producer; pr != nil && pr.Ops != nil {
		pr.Ops.Read(pr, count)
	}
}

// Waker is the only capability interrupt-context callbacks should need:
// wake a task or schedule deferred work. Wake must return without blocking.
type Waker interface {
	Wake()
}

// Waiter blocks a task until it is woken.
type Waiter interface {
	Wait(ctx context.Context) error
}

// WakeOnWritten returns ConsumerOps which only wakes w.
func WakeOnWritten(w Waker) ConsumerOps {
	return WrittenFunc(func(*Consumer, int) { w.Wake() })
}

// WakeOnRead returns ProducerOps which only wakes w.
func WakeOnRead(w Waker) ProducerOps {
	return ReadFunc(func(*Producer, int) { w.Wake() })
}
