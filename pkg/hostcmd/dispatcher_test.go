package hostcmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/ec.go/pkg/queue"
	"github.com/robotalks/ec.go/pkg/stream"
)

type device struct {
	transport  *Transport
	dispatcher *Dispatcher
	client     *Client
	rebooted   chan RebootCmd
	cancel     func()
}

func newDevice(t *testing.T) *device {
	d := &device{
		dispatcher: NewDispatcher(),
		rebooted:   make(chan RebootCmd, 1),
	}
	RegisterBuiltins(d.dispatcher, &DeviceInfo{
		VersionRO:    "sim_v1.0.0-ro",
		VersionRW:    "sim_v1.0.1-rw",
		CurrentImage: ImageRW,
		MaxRequest:   DefaultMaxRequestSize,
		MaxResponse:  DefaultMaxResponseSize,
		Reboot:       func(cmd RebootCmd) { d.rebooted <- cmd },
	})
	d.transport = NewTransport(d.dispatcher)

	host := stream.New()
	queue.Wire(queue.New(1024, 1, nil), host.Producer(), d.transport.Consumer())
	queue.Wire(queue.New(256, 1, nil), d.transport.Producer(), host.Consumer())
	d.client = NewClient(host)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.dispatcher.Run(ctx)
	t.Cleanup(func() {
		cancel()
		host.Close()
	})
	return d
}

func TestHello(t *testing.T) {
	d := newDevice(t)
	out, err := d.client.Hello(context.Background(), 0x10203040)
	require.NoError(t, err)
	require.Equal(t, uint32(0x11223344), out)
}

func TestVersion(t *testing.T) {
	d := newDevice(t)
	ver, err := d.client.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, &VersionInfo{
		VersionRO:    "sim_v1.0.0-ro",
		VersionRW:    "sim_v1.0.1-rw",
		CurrentImage: ImageRW,
	}, ver)
	require.Equal(t, "RW", ver.CurrentImage.String())
}

func TestProtocolInfo(t *testing.T) {
	d := newDevice(t)
	info, err := d.client.ProtocolInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(1<<3), info.ProtocolVersions)
	require.Equal(t, DefaultMaxRequestSize, info.MaxRequest)
	require.Equal(t, DefaultMaxResponseSize, info.MaxResponse)
}

func TestReboot(t *testing.T) {
	d := newDevice(t)
	require.NoError(t, d.client.Reboot(context.Background(), RebootCold))
	select {
	case cmd := <-d.rebooted:
		require.Equal(t, RebootCold, cmd)
	case <-time.After(time.Second):
		t.Fatal("reboot not requested")
	}
}

func TestCommandErrors(t *testing.T) {
	d := newDevice(t)
	d.dispatcher.Register(0x7f00, func(args *Args) Result {
		args.ResponseSize = len(args.Response) + 1
		return ResSuccess
	})
	d.dispatcher.Register(0x7f01, func(args *Args) Result {
		args.ResponseSize = 4
		return ResAccessDenied
	})

	testCases := []struct {
		name   string
		cmd    Command
		params []byte
		result Result
	}{
		{"unknown", 0x1234, nil, ResInvalidCommand},
		{"short hello", CmdHello, []byte{1}, ResInvalidParam},
		{"too big", 0x7f00, nil, ResResponseTooBig},
		{"handler error", 0x7f01, nil, ResAccessDenied},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.client.Do(context.Background(), tc.cmd, 0, tc.params)
			require.Equal(t, &ResultError{Command: tc.cmd, Result: tc.result}, err)
		})
	}

	// The link is still usable.
	_, err := d.client.Hello(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(5), d.transport.Stats().Responses)
}

func TestBadChecksumRejected(t *testing.T) {
	d := NewDispatcher()
	tr := NewTransport(d)
	rx, tx := queue.New(64, 1, nil), queue.New(64, 1, nil)
	queue.Wire(rx, &queue.Producer{}, tr.Consumer())
	queue.Wire(tx, tr.Producer(), &queue.Consumer{})

	req := EncodeRequest(CmdHello, 0, []byte{1, 2, 3, 4})
	req[1]++
	rx.AddUnits(req)
	pkt := <-d.pending
	d.Process(pkt)

	require.Eventually(t, func() bool { return tx.Count() == ResponseHeaderSize }, time.Second, time.Millisecond)
	out := make([]byte, ResponseHeaderSize)
	tx.RemoveUnits(out)
	resp, err := ParseResponse(out)
	require.NoError(t, err)
	require.Equal(t, ResInvalidChecksum, resp.Result)
}

func TestBusy(t *testing.T) {
	d := NewDispatcher()
	d.pending = make(chan *Packet)
	tr := NewTransport(d)
	rx, tx := queue.New(64, 1, nil), queue.New(64, 1, nil)
	queue.Wire(rx, &queue.Producer{}, tr.Consumer())
	queue.Wire(tx, tr.Producer(), &queue.Consumer{})

	rx.AddUnits(EncodeRequest(CmdHello, 0, nil))
	require.Eventually(t, func() bool { return tx.Count() == ResponseHeaderSize }, time.Second, time.Millisecond)
	out := make([]byte, ResponseHeaderSize)
	tx.RemoveUnits(out)
	resp, err := ParseResponse(out)
	require.NoError(t, err)
	require.Equal(t, ResBusy, resp.Result)
}
