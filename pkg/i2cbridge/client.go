package i2cbridge

import (
	"context"
	"io"
	"sync"
	"time"
)

// Conn is the byte stream to the I2C bridge port of a device.
type Conn interface {
	io.Writer
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// DefaultTimeout bounds a transaction round trip.
const DefaultTimeout = time.Second

// Client runs transactions through a bridge. Transactions are serialized.
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

// Xfer writes out to the peripheral at addr and reads readCount bytes
// back. A non-success status is returned as *StatusError.
func (c *Client) Xfer(ctx context.Context, port int, addr uint8, out []byte, readCount int) ([]byte, error) {
	req, err := EncodeRequest(port, addr, out, readCount)
	if err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if _, err := c.Conn.Write(req); err != nil {
		return nil, err
	}
	hdr := make([]byte, StatusSize)
	if err := c.readFull(ctx, hdr); err != nil {
		return nil, err
	}
	status, err := ParseStatus(hdr)
	if err != nil {
		return nil, err
	}
	if status != Success {
		return nil, &StatusError{Status: status}
	}
	in := make([]byte, readCount)
	if err := c.readFull(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}
