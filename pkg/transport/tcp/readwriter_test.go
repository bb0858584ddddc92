package tcp

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/ec.go/pkg/transport"
)

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf)
	require.NoError(t, rw.WritePacket([]byte("hello")))
	require.NoError(t, rw.WritePacket(nil))
	require.Equal(t, []byte{5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o', 0, 0, 0, 0}, buf.Bytes())

	pkt, err := rw.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, "hello", string(pkt))
	pkt, err = rw.ReadPacket()
	require.NoError(t, err)
	require.Empty(t, pkt)
	_, err = rw.ReadPacket()
	require.Equal(t, io.EOF, err)
}

func TestFramingLimits(t *testing.T) {
	rw := New(bytes.NewBuffer([]byte{0, 0, 1, 0}))
	_, err := rw.ReadPacket()
	require.ErrorIs(t, err, transport.ErrPacketTooLarge)

	rw = New(bytes.NewBuffer([]byte{4, 0, 0, 0, 1, 2}))
	_, err = rw.ReadPacket()
	require.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		srv := New(conn)
		defer srv.Close()
		if pkt, err := srv.ReadPacket(); err == nil {
			srv.WritePacket(append(pkt, '!'))
		}
	}()

	rw, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	defer rw.Close()
	require.NoError(t, rw.WritePacket([]byte("hi")))
	pkt, err := rw.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, "hi!", string(pkt))
}
