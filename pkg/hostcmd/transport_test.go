package hostcmd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/queue"
)

type recordingEngine struct {
	packets chan *Packet
}

func (e *recordingEngine) Receive(pkt *Packet) {
	cp := *pkt
	cp.Request = append([]byte(nil), pkt.Request...)
	e.packets <- &cp
}

type transportHarness struct {
	t      *testing.T
	tr     *Transport
	engine *recordingEngine
	rx, tx *queue.Queue
	in     *queue.Producer
	out    *queue.Consumer
	resp   *fx.Event
	now    atomic.Int64
}

func newTransportHarness(t *testing.T, conf Config) *transportHarness {
	h := &transportHarness{
		t:      t,
		engine: &recordingEngine{packets: make(chan *Packet, 4)},
		rx:     queue.New(1024, 1, nil),
		tx:     queue.New(64, 1, nil),
		in:     &queue.Producer{},
		resp:   fx.NewEvent(),
	}
	h.now.Store(time.Now().UnixNano())
	h.tr = NewTransportWith(conf, h.engine)
	h.tr.Time = fx.TimeFunc(func() time.Time { return time.Unix(0, h.now.Load()) })
	h.out = &queue.Consumer{Ops: queue.WakeOnWritten(h.resp)}
	queue.Wire(h.rx, h.in, h.tr.Consumer())
	queue.Wire(h.tx, h.tr.Producer(), h.out)
	return h
}

func (h *transportHarness) advance(d time.Duration) {
	h.now.Add(int64(d))
}

// send delivers data in packets of at most size bytes. The transport
// drains synchronously in the notification.
func (h *transportHarness) send(data []byte, size int) {
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		require.Equal(h.t, n, h.rx.AddUnits(data[:n]))
		require.True(h.t, h.rx.Empty())
		data = data[n:]
	}
}

func (h *transportHarness) packet() *Packet {
	select {
	case pkt := <-h.engine.packets:
		return pkt
	case <-time.After(time.Second):
		h.t.Fatal("no request dispatched")
	}
	return nil
}

func (h *transportHarness) noPacket() {
	select {
	case <-h.engine.packets:
		h.t.Fatal("unexpected dispatch")
	default:
	}
}

// drain reads n response bytes, waiting for each chunk.
func (h *transportHarness) drain(n int) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got []byte
	buf := make([]byte, 64)
	for len(got) < n {
		if c := h.tx.RemoveUnits(buf); c > 0 {
			got = append(got, buf[:c]...)
			continue
		}
		require.NoError(h.t, h.resp.Wait(ctx), "response incomplete at %d/%d", len(got), n)
	}
	return got
}

func TestReassembleLargeRequest(t *testing.T) {
	h := newTransportHarness(t, DefaultConfig)
	params := make([]byte, 492)
	for i := range params {
		params[i] = byte(i)
	}
	req := EncodeRequest(CmdHello, 0, params)
	require.Len(t, req, 500)

	h.send(req, 64)
	pkt := h.packet()
	require.Equal(t, req, pkt.Request)
	h.noPacket()
	require.Equal(t, Processing, h.tr.State())
	require.Equal(t, uint64(1), h.tr.Stats().Requests)
}

func TestHeaderSplitAcrossPackets(t *testing.T) {
	h := newTransportHarness(t, DefaultConfig)
	req := EncodeRequest(CmdGetVersion, 0, []byte{1, 2, 3})
	h.send(req, 3)
	require.Equal(t, req, h.packet().Request)
}

func TestIgnoredWhileProcessing(t *testing.T) {
	h := newTransportHarness(t, DefaultConfig)
	h.send(EncodeRequest(CmdHello, 0, nil), 64)
	h.packet()
	h.send(EncodeRequest(CmdHello, 0, nil), 64)
	h.noPacket()
	require.Equal(t, uint64(8), h.tr.Stats().Discarded)
}

func TestResponseStreamedInChunks(t *testing.T) {
	conf := DefaultConfig
	conf.ChunkSize = 16
	h := newTransportHarness(t, conf)
	h.send(EncodeRequest(CmdHello, 0, nil), 64)
	pkt := h.packet()
	pkt.transport = h.tr

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i * 3)
	}
	copy(pkt.Response[ResponseHeaderSize:], data)
	pkt.ResponseSize = PutResponse(pkt.Response, ResSuccess, len(data))
	pkt.SendResponse()

	got := h.drain(ResponseHeaderSize + len(data))
	resp, err := ParseResponse(got)
	require.NoError(t, err)
	require.Equal(t, data, resp.Data)

	require.Eventually(t, func() bool { return h.tr.State() == ReadyToRx }, time.Second, time.Millisecond)
	require.Equal(t, uint64(1), h.tr.Stats().Responses)
}

func TestResponseDroppedWhenNotProcessing(t *testing.T) {
	h := newTransportHarness(t, DefaultConfig)
	pkt := &Packet{Response: make([]byte, 16), transport: h.tr}
	pkt.ResponseSize = PutResponse(pkt.Response, ResSuccess, 0)
	pkt.SendResponse()
	require.Equal(t, ReadyToRx, h.tr.State())
	require.True(t, h.tx.Empty())
}

func TestRxBad(t *testing.T) {
	oversized := EncodeRequest(CmdHello, 0, nil)
	oversized[6], oversized[7] = 0x00, 0x04 // 1024 bytes of params
	overrun := append(EncodeRequest(CmdHello, 0, nil), 0xff)

	testCases := []struct {
		name  string
		input []byte
	}{
		{"bad version", []byte{0x20, 1, 2, 3}},
		{"too large", oversized},
		{"overrun", overrun},
		{"reserved byte", func() []byte {
			b := EncodeRequest(CmdHello, 0, nil)
			b[5] = 1
			return b
		}()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTransportHarness(t, DefaultConfig)
			h.send(tc.input, 64)
			require.Equal(t, RxBad, h.tr.State())
			require.Equal(t, uint64(1), h.tr.Stats().RxBad)

			// Everything is discarded, even a valid request.
			h.advance(4 * time.Second)
			h.send(EncodeRequest(CmdHello, 0, nil), 64)
			h.noPacket()
			require.Equal(t, RxBad, h.tr.State())

			// After the liveness timeout input is accepted again.
			h.advance(time.Second)
			req := EncodeRequest(CmdHello, 0, []byte{1, 2, 3, 4})
			h.send(req, 64)
			require.Equal(t, req, h.packet().Request)
		})
	}
}

func TestRxBadTimerRecovery(t *testing.T) {
	conf := DefaultConfig
	conf.BadTimeout = 20 * time.Millisecond
	h := newTransportHarness(t, conf)
	h.tr.Time = fx.SystemTime
	h.send([]byte{0}, 64)
	require.Equal(t, RxBad, h.tr.State())
	require.Eventually(t, func() bool { return h.tr.State() == ReadyToRx }, time.Second, time.Millisecond)
}

func TestRequestUnderrun(t *testing.T) {
	conf := DefaultConfig
	conf.RequestTimeout = 20 * time.Millisecond
	h := newTransportHarness(t, conf)
	h.tr.Time = fx.SystemTime
	h.send(EncodeRequest(CmdHello, 0, make([]byte, 10))[:12], 64)
	require.Equal(t, Receiving, h.tr.State())
	require.Eventually(t, func() bool { return h.tr.State() == ReadyToRx }, time.Second, time.Millisecond)
	require.Equal(t, uint64(1), h.tr.Stats().Underruns)

	req := EncodeRequest(CmdHello, 0, nil)
	h.send(req, 64)
	require.Equal(t, req, h.packet().Request)
}

func TestTransportReset(t *testing.T) {
	h := newTransportHarness(t, DefaultConfig)
	h.send(EncodeRequest(CmdHello, 0, make([]byte, 10))[:12], 64)
	h.tr.Reset()
	require.Equal(t, ReadyToRx, h.tr.State())
}

func TestTransportDiscard(t *testing.T) {
	tr := NewTransportWith(DefaultConfig, &recordingEngine{packets: make(chan *Packet, 1)})
	require.Equal(t, 0, tr.Discard())
	q := queue.New(64, 1, nil)
	require.Equal(t, 10, q.AddUnits(make([]byte, 10)))
	queue.Wire(q, &queue.Producer{}, tr.Consumer())
	require.Equal(t, 10, tr.Discard())
	require.True(t, q.Empty())
	require.Equal(t, uint64(10), tr.Stats().Discarded)
}
