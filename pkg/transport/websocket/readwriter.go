// Package websocket carries packets as binary websocket messages.
package websocket

import (
	"net/http"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/ec.go/pkg/transport"
)

// ReadWriter implements transport.PacketReadWriter.
type ReadWriter websocket.Conn

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *ReadWriter {
	return (*ReadWriter)(conn)
}

// Dial connects to a websocket server.
func Dial(url, origin string) (*ReadWriter, error) {
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// ReadPacket implements transport.PacketReader.
func (p *ReadWriter) ReadPacket() (pkt []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(p), &pkt)
	return
}

// WritePacket implements transport.PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	return websocket.Message.Send((*websocket.Conn)(p), pkt)
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	return (*websocket.Conn)(p).Close()
}

// Handler serves each websocket connection with fn. The connection is
// closed when fn returns.
func Handler(fn func(transport.PacketReadWriter) error) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		glog.Infof("websocket: %s connected", conn.Request().RemoteAddr)
		if err := fn(New(conn)); err != nil {
			glog.Warningf("websocket: %s: %v", conn.Request().RemoteAddr, err)
		}
	})
}
