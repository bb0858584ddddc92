// Package queue provides the fixed-capacity single-producer/single-consumer
// ring buffer shared by every port of the EC.
package queue

import (
	"fmt"
	"sync/atomic"
)

// Queue is a ring buffer of fixed-size units.
//
// head and tail are free-running counters. They are never wrapped at the
// capacity; the storage index of a counter is counter&mask. All comparisons
// go through the difference tail-head, which is correct in uint64 modular
// arithmetic as long as tail never runs ahead of head by more than the
// capacity.
//
// Only the producer side stores tail and only the consumer side stores head.
// Using a Queue with more than one producer or consumer is not supported.
type Queue struct {
	policy    Policy
	buf       []byte
	units     int
	unitBytes int
	mask      uint64

	head atomic.Uint64
	tail atomic.Uint64
}

// CopyFunc copies n bytes from src to dst, used by the *Memcpy variants for
// storage that needs special access.
type CopyFunc func(dst, src []byte) int

// New creates a Queue holding units elements of unitBytes each.
// It panics if units is not a power of two or unitBytes is not positive.
func New(units, unitBytes int, policy Policy) *Queue {
	if units <= 0 || units&(units-1) != 0 {
		panic(fmt.Sprintf("queue: capacity %d is not a power of two", units))
	}
	if unitBytes <= 0 {
		panic(fmt.Sprintf("queue: invalid unit size %d", unitBytes))
	}
	if policy == nil {
		policy = NullPolicy
	}
	return &Queue{
		policy:    policy,
		buf:       make([]byte, units*unitBytes),
		units:     units,
		unitBytes: unitBytes,
		mask:      uint64(units - 1),
	}
}

// Init resets head and tail. It must not race with either side.
func (q *Queue) Init() {
	q.head.Store(0)
	q.tail.Store(0)
}

// SetPolicy replaces the notification policy. Call it before the queue is
// shared.
func (q *Queue) SetPolicy(policy Policy) {
	if policy == nil {
		policy = NullPolicy
	}
	q.policy = policy
}

// Policy returns the notification policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Capacity is the number of units the queue holds.
func (q *Queue) Capacity() int {
	return q.units
}

// UnitBytes is the size of a unit.
func (q *Queue) UnitBytes() int {
	return q.unitBytes
}

// Count returns the number of occupied units.
func (q *Queue) Count() int {
	return int(q.tail.Load() - q.head.Load())
}

// Space returns the number of free units.
func (q *Queue) Space() int {
	return q.units - q.Count()
}

// Empty reports whether head == tail.
func (q *Queue) Empty() bool {
	return q.Count() == 0
}

// Full reports whether the queue holds Capacity units.
func (q *Queue) Full() bool {
	return q.Count() == q.units
}

// Head returns the consumer counter.
func (q *Queue) Head() uint64 {
	return q.head.Load()
}

// Tail returns the producer counter.
func (q *Queue) Tail() uint64 {
	return q.tail.Load()
}

func (q *Queue) index(counter uint64) int {
	return int(counter&q.mask) * q.unitBytes
}

func defaultCopy(dst, src []byte) int {
	return copy(dst, src)
}

// AddUnit adds one unit from src. It returns 1 if added, otherwise 0.
func (q *Queue) AddUnit(src []byte) int {
	return q.AddUnits(src[:q.unitBytes])
}

// AddUnits adds up to len(src)/UnitBytes() units and returns the number of
// units actually added.
func (q *Queue) AddUnits(src []byte) int {
	return q.AddMemcpy(src, len(src)/q.unitBytes, nil)
}

// AddMemcpy adds up to n units from src using copyFn.
func (q *Queue) AddMemcpy(src []byte, n int, copyFn CopyFunc) int {
	added := q.addMemcpy(src, n, copyFn)
	if added > 0 {
		q.policy.AddNotify(q, added)
	}
	return added
}

func (q *Queue) addMemcpy(src []byte, n int, copyFn CopyFunc) int {
	if copyFn == nil {
		copyFn = defaultCopy
	}
	if space := q.Space(); n > space {
		n = space
	}
	if n <= 0 {
		return 0
	}
	tail := q.tail.Load()
	start := q.index(tail)
	size := n * q.unitBytes
	first := len(q.buf) - start
	if first > size {
		first = size
	}
	copyFn(q.buf[start:start+first], src[:first])
	if first < size {
		copyFn(q.buf[:size-first], src[first:size])
	}
	q.tail.Store(tail + uint64(n))
	return n
}

// RemoveUnit removes one unit into dst. It returns 1 if removed, otherwise 0.
func (q *Queue) RemoveUnit(dst []byte) int {
	return q.RemoveUnits(dst[:q.unitBytes])
}

// RemoveUnits removes up to len(dst)/UnitBytes() units.
func (q *Queue) RemoveUnits(dst []byte) int {
	return q.RemoveMemcpy(dst, len(dst)/q.unitBytes, nil)
}

// RemoveMemcpy removes up to n units into dst using copyFn.
func (q *Queue) RemoveMemcpy(dst []byte, n int, copyFn CopyFunc) int {
	removed := q.PeekMemcpy(dst, n, 0, copyFn)
	if removed > 0 {
		q.head.Add(uint64(removed))
		q.policy.RemoveNotify(q, removed)
	}
	return removed
}

func (q *Queue) removeMemcpy(dst []byte, n int, copyFn CopyFunc) int {
	removed := q.PeekMemcpy(dst, n, 0, copyFn)
	if removed > 0 {
		q.head.Add(uint64(removed))
	}
	return removed
}

// PeekUnits copies up to len(dst)/UnitBytes() units starting offset units
// past head without removing them.
func (q *Queue) PeekUnits(dst []byte, offset int) int {
	return q.PeekMemcpy(dst, len(dst)/q.unitBytes, offset, nil)
}

// PeekMemcpy is PeekUnits with an explicit count and copy function.
func (q *Queue) PeekMemcpy(dst []byte, n, offset int, copyFn CopyFunc) int {
	if copyFn == nil {
		copyFn = defaultCopy
	}
	if offset < 0 {
		return 0
	}
	avail := q.Count() - offset
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	start := q.index(q.head.Load() + uint64(offset))
	size := n * q.unitBytes
	first := len(q.buf) - start
	if first > size {
		first = size
	}
	copyFn(dst[:first], q.buf[start:start+first])
	if first < size {
		copyFn(dst[first:size], q.buf[:size-first])
	}
	return n
}

// Discard drops everything currently buffered and returns the number of
// units dropped.
func Discard(q *Queue) int {
	return q.AdvanceHead(q.Count())
}
