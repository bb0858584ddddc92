package serial

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func linkPair(t *testing.T) (*Link, *Link) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
		close(connCh)
	}()
	c1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c2 := <-connCh
	require.NotNil(t, c2)

	a, b := New(c1), New(c2)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		a.Close()
		b.Close()
	})
	go a.Run(ctx)
	go b.Run(ctx)
	return a, b
}

func waitReady(t *testing.T, l *Link) {
	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("link not synchronized")
	}
}

func TestLinkExchange(t *testing.T) {
	a, b := linkPair(t)
	waitReady(t, a)
	waitReady(t, b)
	require.True(t, a.State().IsReady())

	large := make([]byte, 300)
	for i := range large {
		large[i] = byte(i)
	}
	packets := [][]byte{{1, 2, 3}, {}, large, make([]byte, MaxFrameData)}
	go func() {
		for _, pkt := range packets {
			a.WritePacket(pkt)
		}
	}()
	for _, expect := range packets {
		pkt, err := b.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, expect, pkt)
	}

	require.NoError(t, b.WritePacket([]byte("pong")))
	pkt, err := a.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, "pong", string(pkt))
}

func TestLinkPacketTooLarge(t *testing.T) {
	l := New(nil)
	l.MaxPacketSize = 16
	require.Error(t, l.WritePacket(make([]byte, 17)))
}

func TestLinkClose(t *testing.T) {
	a, b := linkPair(t)
	waitReady(t, b)
	require.NoError(t, a.Close())
	_, err := a.ReadPacket()
	require.Equal(t, io.EOF, err)
	// The peer sees the stream end.
	_, err = b.ReadPacket()
	require.Equal(t, io.EOF, err)

	l := New(nil)
	l.Close()
	require.Equal(t, ErrClosed, l.WritePacket([]byte{1}))
}
