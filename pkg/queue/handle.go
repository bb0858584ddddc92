package queue

import "context"

// ProducerOps is notified when the consumer drained units.
type ProducerOps interface {
	Read(p *Producer, count int)
}

// ReadFunc is the func form of ProducerOps.
type ReadFunc func(p *Producer, count int)

// Read implements ProducerOps.
func (f ReadFunc) Read(p *Producer, count int) {
	f(p, count)
}

// ConsumerOps is notified when the producer added units.
type ConsumerOps interface {
	Written(c *Consumer, count int)
}

// WrittenFunc is the func form of ConsumerOps.
type WrittenFunc func(c *Consumer, count int)

// Written implements ConsumerOps.
func (f WrittenFunc) Written(c *Consumer, count int) {
	f(c, count)
}

// Producer is the writing side of a queue.
type Producer struct {
	Queue *Queue
	Ops   ProducerOps
	Peer  *Consumer
}

// Consumer is the reading side of a queue.
type Consumer struct {
	Queue *Queue
	Ops   ConsumerOps
	Peer  *Producer
}

// Wire binds producer and consumer to q and installs a Direct policy.
// Either handle may be nil when that side is driven without notifications.
func Wire(q *Queue, producer *Producer, consumer *Consumer) *Queue {
	if producer != nil {
		producer.Queue = q
		producer.Peer = consumer
	}
	if consumer != nil {
		consumer.Queue = q
		consumer.Peer = producer
	}
	q.SetPolicy(&Direct{Producer: producer, Consumer: consumer})
	return q
}

// Write adds units from src without going through the queue policy and
// then notifies the peer consumer directly. It returns the units added.
func (p *Producer) Write(src []byte) int {
	q := p.Queue
	n := q.addMemcpy(src, len(src)/q.unitBytes, nil)
	if c := p.Peer; n > 0 && c != nil && c.Ops != nil {
		c.Ops.Written(c, n)
	}
	return n
}

// Read removes units into dst without going through the queue policy and
// then notifies the peer producer directly.
func (c *Consumer) Read(dst []byte) int {
	q := c.Queue
	n := q.removeMemcpy(dst, len(dst)/q.unitBytes, nil)
	if p := c.Peer; n > 0 && p != nil && p.Ops != nil {
		p.Ops.Read(p, n)
	}
	return n
}

// BlockingAdd adds all of src, waiting on w whenever the queue is full.
// It returns the units added before ctx ended.
func BlockingAdd(ctx context.Context, q *Queue, src []byte, w Waiter) (int, error) {
	total := len(src) / q.unitBytes
	added := 0
	for added < total {
		added += q.AddUnits(src[added*q.unitBytes : total*q.unitBytes])
		if added == total {
			break
		}
		if err := w.Wait(ctx); err != nil {
			return added, err
		}
	}
	return added, nil
}

// BlockingRemove fills dst completely, waiting on w whenever the queue is
// empty.
func BlockingRemove(ctx context.Context, q *Queue, dst []byte, w Waiter) (int, error) {
	total := len(dst) / q.unitBytes
	removed := 0
	for removed < total {
		removed += q.RemoveUnits(dst[removed*q.unitBytes : total*q.unitBytes])
		if removed == total {
			break
		}
		if err := w.Wait(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
