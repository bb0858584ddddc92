package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	written []int
	read    []int
}

func (r *recorder) wire(q *Queue) (*Producer, *Consumer) {
	p := &Producer{Ops: ReadFunc(func(_ *Producer, n int) { r.read = append(r.read, n) })}
	c := &Consumer{Ops: WrittenFunc(func(_ *Consumer, n int) { r.written = append(r.written, n) })}
	Wire(q, p, c)
	return p, c
}

func TestWire(t *testing.T) {
	var r recorder
	q := New(8, 1, nil)
	p, c := r.wire(q)
	require.Same(t, q, p.Queue)
	require.Same(t, q, c.Queue)
	require.Same(t, c, p.Peer)
	require.Same(t, p, c.Peer)
	require.IsType(t, &Direct{}, q.Policy())
}

func TestDirectPolicy(t *testing.T) {
	var r recorder
	q := New(8, 1, nil)
	r.wire(q)

	q.AddUnits(seq(0, 3))
	q.AddUnits(seq(0, 10))
	require.Equal(t, []int{3, 5}, r.written)
	require.Empty(t, r.read)

	q.RemoveUnits(make([]byte, 2))
	q.AdvanceHead(1)
	q.PeekUnits(make([]byte, 4), 0)
	require.Equal(t, []int{2, 1}, r.read)

	q.AdvanceHead(5)
	require.Equal(t, []int{2, 1, 5}, r.read)
	c := q.WriteChunk(0)
	require.Equal(t, 8, c.Count)
	q.AdvanceTail(c.Count)
	require.Equal(t, []int{3, 5, 8}, r.written)
}

func TestHelpersNotifyOnce(t *testing.T) {
	var r recorder
	q := New(4, 1, nil)
	p, c := r.wire(q)

	require.Equal(t, 4, p.Write(seq(0, 6)))
	require.Equal(t, []int{4}, r.written)
	require.Equal(t, 0, p.Write(seq(0, 1)))
	require.Equal(t, []int{4}, r.written)

	out := make([]byte, 3)
	require.Equal(t, 3, c.Read(out))
	require.Equal(t, seq(0, 3), out)
	require.Equal(t, []int{3}, r.read)
}

func TestHelpersWithoutPeer(t *testing.T) {
	q := New(4, 1, nil)
	p := &Producer{Queue: q}
	c := &Consumer{Queue: q}
	require.Equal(t, 2, p.Write(seq(0, 2)))
	require.Equal(t, 2, c.Read(make([]byte, 4)))
}
