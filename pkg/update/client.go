package update

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/golang/glog"
)

// Conn is the byte stream to the update port of a device.
type Conn interface {
	io.Writer
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// Client drives an update session from the host.
type Client struct {
	Conn Conn
	// Timeout bounds the wait for each response.
	Timeout time.Duration
	// Retries is the number of extra attempts for a block on timeout.
	Retries int
	// WithDigest sends block digests.
	WithDigest bool
	// Progress is called after each block.
	Progress func(done, total int)

	target *FirstResponse
}

// Default client settings.
const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 10
)

// NewClient creates a Client.
func NewClient(conn Conn) *Client {
	return &Client{
		Conn:       conn,
		Timeout:    DefaultTimeout,
		Retries:    DefaultRetries,
		WithDigest: true,
	}
}

// Target returns the first response of the current session.
func (c *Client) Target() *FirstResponse {
	return c.target
}

func (c *Client) readFull(ctx context.Context, p []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	for got := 0; got < len(p); {
		n, err := c.Conn.ReadContext(ctx, p[got:])
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

func (c *Client) readStatus(ctx context.Context, op string) error {
	var b [1]byte
	if err := c.readFull(ctx, b[:]); err != nil {
		return err
	}
	if st := Status(b[0]); st != Success {
		return &StatusError{Op: op, Status: st}
	}
	return nil
}

// Start opens a session.
func (c *Client) Start(ctx context.Context) (*FirstResponse, error) {
	if _, err := c.Conn.Write(StartRequest()); err != nil {
		return nil, err
	}
	buf := make([]byte, FirstResponseSize)
	if err := c.readFull(ctx, buf[:4]); err != nil {
		return nil, err
	}
	if code := binary.BigEndian.Uint32(buf); code != 0 {
		return nil, &StartError{Code: code}
	}
	if err := c.readFull(ctx, buf[4:]); err != nil {
		return nil, err
	}
	resp, err := DecodeFirstResponse(buf)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("update: target %q protocol %d offset %#x pdu %d",
		resp.Version, resp.ProtocolVersion, resp.Offset, resp.MaxPDUSize)
	c.target = resp
	return resp, nil
}

// TransferSection sends data starting at base in blocks of at most the
// maximum PDU size reported by Start.
func (c *Client) TransferSection(ctx context.Context, base uint32, data []byte) error {
	if c.target == nil {
		return ErrNotStarted
	}
	pdu := int(c.target.MaxPDUSize)
	if pdu <= 0 {
		pdu = len(data)
	}
	for done := 0; done < len(data); {
		size := len(data) - done
		if size > pdu {
			size = pdu
		}
		if err := c.sendBlock(ctx, base+uint32(done), data[done:done+size]); err != nil {
			return err
		}
		done += size
		if fn := c.Progress; fn != nil {
			fn(done, len(data))
		}
	}
	return nil
}

func (c *Client) sendBlock(ctx context.Context, base uint32, payload []byte) error {
	req := BlockRequest(base, payload, c.WithDigest)
	var err error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			glog.Warningf("update: block %#x retry %d: %v", base, attempt, err)
		}
		if _, err = c.Conn.Write(req); err != nil {
			return err
		}
		err = c.readStatus(ctx, "write block")
		if err != context.DeadlineExceeded || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// Done ends the session. The device resets on the next data it receives.
func (c *Client) Done(ctx context.Context) error {
	if _, err := c.Conn.Write(DoneRequest()); err != nil {
		return err
	}
	err := c.readStatus(ctx, "done")
	c.target = nil
	return err
}

// Extra sends an extra command and reads respSize bytes of response.
func (c *Client) Extra(ctx context.Context, cmd ExtraCommand, body []byte, respSize int) ([]byte, error) {
	if _, err := c.Conn.Write(ExtraRequest(cmd, body)); err != nil {
		return nil, err
	}
	resp := make([]byte, respSize)
	if err := c.readFull(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Update writes the part of image at and beyond the writable offset
// reported by the device, then ends the session.
func (c *Client) Update(ctx context.Context, image []byte) error {
	target, err := c.Start(ctx)
	if err != nil {
		return err
	}
	if int(target.Offset) >= len(image) {
		return &StatusError{Op: "update", Status: BadAddr}
	}
	if err = c.TransferSection(ctx, target.Offset, image[target.Offset:]); err != nil {
		return err
	}
	return c.Done(ctx)
}
