package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/ec.go/pkg/transport"
)

func TestEcho(t *testing.T) {
	server := httptest.NewServer(Handler(func(rw transport.PacketReadWriter) error {
		for {
			pkt, err := rw.ReadPacket()
			if err != nil {
				return err
			}
			if err := rw.WritePacket(append([]byte{0xee}, pkt...)); err != nil {
				return err
			}
		}
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	rw, err := Dial("ws://"+host+"/ec", server.URL)
	require.NoError(t, err)
	defer rw.Close()

	for _, pkt := range [][]byte{{1, 2, 3}, make([]byte, 1024)} {
		require.NoError(t, rw.WritePacket(pkt))
		got, err := rw.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, append([]byte{0xee}, pkt...), got)
	}
}
