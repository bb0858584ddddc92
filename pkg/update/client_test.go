package update

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptConn returns canned responses and records writes.
type scriptConn struct {
	writes [][]byte
	resp   bytes.Buffer
}

func (c *scriptConn) Write(p []byte) (int, error) {
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *scriptConn) ReadContext(ctx context.Context, p []byte) (int, error) {
	if c.resp.Len() == 0 {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return c.resp.Read(p)
}

func firstResponse(pdu, offset uint32) []byte {
	r := FirstResponse{
		HeaderType:      HeaderTypeCommon,
		ProtocolVersion: ProtocolVersion,
		MaxPDUSize:      pdu,
		Offset:          offset,
		Version:         "dev",
	}
	return r.Encode()
}

func TestFirstResponseEncoding(t *testing.T) {
	r := FirstResponse{
		ReturnValue:     0,
		HeaderType:      HeaderTypeCommon,
		ProtocolVersion: ProtocolVersion,
		MaxPDUSize:      1024,
		FlashProtection: 3,
		Offset:          0x10000,
		Version:         "ec_v2.0.1234",
		MinRollback:     -1,
		KeyVersion:      7,
	}
	b := r.Encode()
	require.Len(t, b, FirstResponseSize)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 1, 0, 6}, b[:8])
	decoded, err := DecodeFirstResponse(b)
	require.NoError(t, err)
	require.Equal(t, r, *decoded)

	_, err = DecodeFirstResponse(b[:10])
	require.Equal(t, ErrShortResponse, err)
}

func TestRequests(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 12, 0, 0, 0, 0, 0, 0, 0, 0}, StartRequest())
	require.Equal(t, []byte{0xb0, 0x07, 0xab, 0x1e}, DoneRequest())

	blk := BlockRequest(0x1000, []byte{1, 2, 3}, false)
	hdr, err := ParseHeader(blk)
	require.NoError(t, err)
	require.Equal(t, Header{BlockSize: 15, Base: 0x1000}, hdr)
	require.Equal(t, []byte{1, 2, 3}, blk[HeaderSize:])

	extra := ExtraRequest(ExtraTouchpadInfo, []byte{9})
	hdr, err = ParseHeader(extra)
	require.NoError(t, err)
	require.Equal(t, ExtraCmdMarker, hdr.Base)
	require.Equal(t, uint16(ExtraTouchpadInfo), binary.BigEndian.Uint16(extra[HeaderSize:]))
}

func TestClientUpdate(t *testing.T) {
	conn := &scriptConn{}
	conn.resp.Write(firstResponse(100, 16))
	conn.resp.Write([]byte{0, 0, 0, 0})
	c := NewClient(conn)
	var progress []int
	c.Progress = func(done, total int) { progress = append(progress, done) }

	image := payload(16 + 250)
	require.NoError(t, c.Update(context.Background(), image))
	require.Equal(t, []int{100, 200, 250}, progress)

	require.Len(t, conn.writes, 5)
	require.Equal(t, StartRequest(), conn.writes[0])
	for i, base := range []uint32{16, 116, 216} {
		hdr, err := ParseHeader(conn.writes[i+1])
		require.NoError(t, err)
		require.Equal(t, base, hdr.Base)
		require.Equal(t, BlockDigest(base, conn.writes[i+1][HeaderSize:]), hdr.Digest)
	}
	require.Equal(t, DoneRequest(), conn.writes[4])
	require.Nil(t, c.Target())
}

func TestClientStartRejected(t *testing.T) {
	conn := &scriptConn{}
	conn.resp.Write([]byte{0, 0, 0, byte(RollbackError)})
	_, err := NewClient(conn).Start(context.Background())
	require.Equal(t, &StartError{Code: uint32(RollbackError)}, err)
}

func TestClientBlockStatus(t *testing.T) {
	conn := &scriptConn{}
	conn.resp.Write(firstResponse(100, 0))
	conn.resp.Write([]byte{byte(VerifyError)})
	c := NewClient(conn)
	_, err := c.Start(context.Background())
	require.NoError(t, err)
	err = c.TransferSection(context.Background(), 0, payload(10))
	require.Equal(t, &StatusError{Op: "write block", Status: VerifyError}, err)
}

func TestClientRetriesOnTimeout(t *testing.T) {
	conn := &scriptConn{}
	conn.resp.Write(firstResponse(100, 0))
	c := NewClient(conn)
	c.Timeout = 5 * time.Millisecond
	c.Retries = 2
	_, err := c.Start(context.Background())
	require.NoError(t, err)
	err = c.TransferSection(context.Background(), 0, payload(10))
	require.Equal(t, context.DeadlineExceeded, err)
	// start + 3 attempts
	require.Len(t, conn.writes, 4)
}

func TestClientNotStarted(t *testing.T) {
	err := NewClient(&scriptConn{}).TransferSection(context.Background(), 0, payload(1))
	require.Equal(t, ErrNotStarted, err)
}
