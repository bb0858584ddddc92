package queue

// Chunk is a contiguous region of queue storage. Buffer aliases the queue
// and is only valid until the matching Advance call.
type Chunk struct {
	Buffer []byte
	Count  int
}

// WriteChunk returns the largest contiguous free region starting offset
// units past tail. The caller fills it and commits with AdvanceTail.
func (q *Queue) WriteChunk(offset int) Chunk {
	free := q.Space() - offset
	if offset < 0 || free <= 0 {
		return Chunk{}
	}
	pos := q.tail.Load() + uint64(offset)
	idx := int(pos & q.mask)
	n := q.units - idx
	if n > free {
		n = free
	}
	start := idx * q.unitBytes
	return Chunk{Buffer: q.buf[start : start+n*q.unitBytes], Count: n}
}

// ReadChunk returns the largest contiguous occupied region starting at head.
// The caller consumes it and releases with AdvanceHead.
func (q *Queue) ReadChunk() Chunk {
	count := q.Count()
	if count == 0 {
		return Chunk{}
	}
	idx := int(q.head.Load() & q.mask)
	n := q.units - idx
	if n > count {
		n = count
	}
	start := idx * q.unitBytes
	return Chunk{Buffer: q.buf[start : start+n*q.unitBytes], Count: n}
}

// AdvanceTail commits up to n units written through WriteChunk, clamped to
// the free space, and fires the added notification.
func (q *Queue) AdvanceTail(n int) int {
	if space := q.Space(); n > space {
		n = space
	}
	if n <= 0 {
		return 0
	}
	q.tail.Add(uint64(n))
	q.policy.AddNotify(q, n)
	return n
}

// AdvanceHead releases up to n units, clamped to the occupied count, and
// fires the removed notification.
func (q *Queue) AdvanceHead(n int) int {
	if count := q.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return 0
	}
	q.head.Add(uint64(n))
	q.policy.RemoveNotify(q, n)
	return n
}
