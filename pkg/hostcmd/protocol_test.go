package hostcmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	b := EncodeRequest(CmdHello, 1, []byte{4, 3, 2, 1})
	require.Len(t, b, RequestHeaderSize+4)
	require.Equal(t, byte(RequestVersion), b[0])
	require.Equal(t, []byte{0x01, 0x00, 0x01, 0x00, 0x04, 0x00}, b[2:8])
	require.True(t, Valid(b))
	require.Equal(t, 12, ExpectedSize(b))

	req, res := ParseRequest(b)
	require.Equal(t, ResSuccess, res)
	require.Equal(t, &Request{Command: CmdHello, Version: 1, Params: []byte{4, 3, 2, 1}}, req)
}

func TestParseRequestErrors(t *testing.T) {
	good := EncodeRequest(CmdGetVersion, 0, []byte{1, 2})
	corrupt := append([]byte(nil), good...)
	corrupt[9] ^= 0x10
	badVersion := append([]byte(nil), good...)
	badVersion[0] = 2
	reserved := append([]byte(nil), good...)
	reserved[5] = 1

	testCases := []struct {
		name string
		pkt  []byte
		res  Result
	}{
		{"short", good[:4], ResInvalidHeader},
		{"version", badVersion, ResInvalidHeader},
		{"reserved", reserved, ResInvalidHeader},
		{"truncated", good[:9], ResRequestTruncated},
		{"checksum", corrupt, ResInvalidChecksum},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, res := ParseRequest(tc.pkt)
			require.Equal(t, tc.res, res)
		})
	}
}

func TestExpectedSize(t *testing.T) {
	hdr := EncodeRequest(CmdHello, 0, make([]byte, 492))[:RequestHeaderSize]
	require.Equal(t, 500, ExpectedSize(hdr))
	require.Equal(t, 0, ExpectedSize(hdr[:7]))
	bad := append([]byte(nil), hdr...)
	bad[0] = 0xec
	require.Equal(t, 0, ExpectedSize(bad))
}

func TestResponse(t *testing.T) {
	b := EncodeResponse(ResInvalidParam, []byte{9, 8, 7})
	require.True(t, Valid(b))
	require.Equal(t, 3, ResponseDataLen(b))
	resp, err := ParseResponse(b)
	require.NoError(t, err)
	require.Equal(t, ResInvalidParam, resp.Result)
	require.Equal(t, []byte{9, 8, 7}, resp.Data)

	_, err = ParseResponse(b[:5])
	require.Equal(t, ErrShortPacket, err)
	_, err = ParseResponse(b[:9])
	require.Equal(t, ErrShortPacket, err)
	b[8]++
	_, err = ParseResponse(b)
	require.Equal(t, ErrBadChecksum, err)
	b[0] = 4
	_, err = ParseResponse(b)
	require.Equal(t, ErrBadVersion, err)
}

func TestResultString(t *testing.T) {
	require.Equal(t, "invalid checksum", ResInvalidChecksum.String())
	require.Equal(t, "result(99)", Result(99).String())
	require.Equal(t, "command 0x0001: busy", (&ResultError{Command: CmdHello, Result: ResBusy}).Error())
}
