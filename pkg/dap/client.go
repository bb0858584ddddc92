package dap

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"
)

// Conn is the byte stream to the CMSIS-DAP port of a probe.
type Conn interface {
	io.Writer
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// DefaultTimeout bounds a command round trip.
const DefaultTimeout = time.Second

// Client issues CMSIS-DAP commands. Commands are serialized.
type Client struct {
	Conn    Conn
	Timeout time.Duration

	lock sync.Mutex
}

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

// do sends req and reads a response of size fixed bytes, plus as many bytes
// as the length byte at the end of it says when counted is set.
func (c *Client) do(ctx context.Context, req []byte, fixed int, counted bool) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if _, err := c.Conn.Write(req); err != nil {
		return nil, err
	}
	resp := make([]byte, fixed)
	if err := c.readFull(ctx, resp); err != nil {
		return nil, err
	}
	if resp[0] != req[0] {
		return nil, ErrUnexpectedResponse
	}
	if counted {
		resp = append(resp, make([]byte, resp[fixed-1])...)
		if err := c.readFull(ctx, resp[fixed:]); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *Client) status(ctx context.Context, req []byte) error {
	resp, err := c.do(ctx, req, 2, false)
	if err != nil {
		return err
	}
	if resp[1] != StatusOK {
		return &CommandError{Command: Command(req[0])}
	}
	return nil
}

// Info returns the raw value of an Info item.
func (c *Client) Info(ctx context.Context, id InfoID) ([]byte, error) {
	resp, err := c.do(ctx, []byte{byte(CmdInfo), byte(id)}, 2, true)
	if err != nil {
		return nil, err
	}
	return resp[2:], nil
}

// InfoString returns a string Info item.
func (c *Client) InfoString(ctx context.Context, id InfoID) (string, error) {
	data, err := c.Info(ctx, id)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(data, "\x00")), nil
}

// Capabilities returns the capability bits.
func (c *Client) Capabilities(ctx context.Context) (uint16, error) {
	return c.uint16Info(ctx, []byte{byte(CmdInfo), byte(InfoCapabilities)})
}

// GoogCapabilities returns the vendor capability bits.
func (c *Client) GoogCapabilities(ctx context.Context) (uint16, error) {
	return c.uint16Info(ctx, []byte{byte(CmdGoogInfo), GoogInfoCapabilities})
}

func (c *Client) uint16Info(ctx context.Context, req []byte) (uint16, error) {
	resp, err := c.do(ctx, req, 2, true)
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, ErrUnexpectedResponse
	}
	return binary.LittleEndian.Uint16(resp[2:]), nil
}

// HostStatus reports a host status indicator.
func (c *Client) HostStatus(ctx context.Context, kind, status uint8) error {
	return c.status(ctx, []byte{byte(CmdHostStatus), kind, status})
}

// Connect connects the debug port.
func (c *Client) Connect(ctx context.Context, mode Mode) (Mode, error) {
	resp, err := c.do(ctx, []byte{byte(CmdConnect), byte(mode)}, 2, false)
	if err != nil {
		return ModeFailed, err
	}
	if Mode(resp[1]) == ModeFailed {
		return ModeFailed, &CommandError{Command: CmdConnect}
	}
	return Mode(resp[1]), nil
}

// Disconnect disconnects the debug port.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.status(ctx, []byte{byte(CmdDisconnect)})
}

// ResetTarget resets the target and returns whether a reset was performed.
func (c *Client) ResetTarget(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, []byte{byte(CmdResetTarget)}, 3, false)
	if err != nil {
		return false, err
	}
	if resp[1] != StatusOK {
		return false, &CommandError{Command: CmdResetTarget}
	}
	return resp[2] != 0, nil
}

// SetClock sets the debug clock.
func (c *Client) SetClock(ctx context.Context, hz uint32) error {
	return c.status(ctx, binary.LittleEndian.AppendUint32([]byte{byte(CmdSWJClock)}, hz))
}
