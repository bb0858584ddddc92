package hostcmd

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"
)

// Conn is the byte stream to the host command port of a device.
type Conn interface {
	io.Writer
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// Client issues host commands. Commands are serialized.
type Client struct {
	Conn    Conn
	Timeout time.Duration

	lock sync.Mutex
}

// DefaultTimeout bounds a command round trip.
const DefaultTimeout = time.Second

// NewClient creates a Client.
func NewClient(conn Conn) *Client {
	return &Client{Conn: conn, Timeout: DefaultTimeout}
}

func (c *Client) readFull(ctx context.Context, p []byte) error {
	for got := 0; got < len(p); {
		n, err := c.Conn.ReadContext(ctx, p[got:])
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

// Do sends a command and returns the response data. A non-success result
// is returned as *ResultError.
func (c *Client) Do(ctx context.Context, cmd Command, version uint8, params []byte) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if _, err := c.Conn.Write(EncodeRequest(cmd, version, params)); err != nil {
		return nil, err
	}
	pkt := make([]byte, ResponseHeaderSize)
	if err := c.readFull(ctx, pkt); err != nil {
		return nil, err
	}
	if pkt[0] != ResponseVersion {
		return nil, ErrBadVersion
	}
	pkt = append(pkt, make([]byte, ResponseDataLen(pkt))...)
	if err := c.readFull(ctx, pkt[ResponseHeaderSize:]); err != nil {
		return nil, err
	}
	resp, err := ParseResponse(pkt)
	if err != nil {
		return nil, err
	}
	if resp.Result != ResSuccess {
		return nil, &ResultError{Command: cmd, Result: resp.Result}
	}
	return resp.Data, nil
}

// Hello checks the link; the device returns in + 0x01020304.
func (c *Client) Hello(ctx context.Context, in uint32) (uint32, error) {
	data, err := c.Do(ctx, CmdHello, 0, binary.LittleEndian.AppendUint32(nil, in))
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, ErrShortPacket
	}
	return binary.LittleEndian.Uint32(data), nil
}

// Version queries firmware versions.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	data, err := c.Do(ctx, CmdGetVersion, 0, nil)
	if err != nil {
		return nil, err
	}
	return DecodeVersion(data)
}

// ProtocolInfo queries protocol limits.
func (c *Client) ProtocolInfo(ctx context.Context) (*ProtocolInfo, error) {
	data, err := c.Do(ctx, CmdGetProtocolInfo, 0, nil)
	if err != nil {
		return nil, err
	}
	return DecodeProtocolInfo(data)
}

// Reboot requests a reboot.
func (c *Client) Reboot(ctx context.Context, cmd RebootCmd) error {
	_, err := c.Do(ctx, CmdRebootEC, 0, []byte{byte(cmd), 0})
	return err
}
