package ec

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/ec.go/pkg/dap"
	"github.com/robotalks/ec.go/pkg/flash"
	"github.com/robotalks/ec.go/pkg/hostcmd"
	"github.com/robotalks/ec.go/pkg/i2cbridge"
	"github.com/robotalks/ec.go/pkg/transport"
)

const testFlashSize = 0x24000

type testbed struct {
	dev      *Device
	link     *Link
	ctx      context.Context
	detached chan error
}

func newTestbed(t *testing.T) *testbed {
	conf := DefaultConfig()
	conf.ID = "test"
	conf.FlashSize = testFlashSize
	dev, err := NewDevice(conf, flash.NewMemStore(testFlashSize))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	host, link := transport.Pipe()
	tb := &testbed{dev: dev, link: NewLink(host), ctx: ctx, detached: make(chan error, 1)}
	go dev.Run(ctx)
	go func() { tb.detached <- dev.Attach(ctx, link) }()
	go tb.link.Run(ctx)
	return tb
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name  string
		apply func(*Config)
	}{
		{"no id", func(c *Config) { c.ID = "" }},
		{"queue not power of two", func(c *Config) { c.QueueSize = 300 }},
		{"queue too small", func(c *Config) { c.QueueSize = 32 }},
		{"packet too large", func(c *Config) { c.PacketSize = 512 }},
		{"ro too large", func(c *Config) { c.FlashSize = 0x10000 }},
	}
	conf := DefaultConfig()
	require.NoError(t, conf.Validate())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := DefaultConfig()
			tc.apply(&conf)
			require.Error(t, conf.Validate())
			_, err := NewDevice(conf, flash.NewMemStore(int(conf.FlashSize)))
			require.Error(t, err)
		})
	}
}

func TestFirmwareUpdate(t *testing.T) {
	tb := newTestbed(t)
	image := make([]byte, testFlashSize)
	for i := range image {
		image[i] = byte(i * 13)
	}
	require.NoError(t, tb.link.Update.Update(tb.ctx, image))

	got := make([]byte, testFlashSize-0x20000)
	_, err := tb.dev.Flash.Read(got, 0x20000)
	require.NoError(t, err)
	require.True(t, bytes.Equal(image[0x20000:], got))
	// RO stays erased.
	ro := make([]byte, 16)
	_, err = tb.dev.Flash.Read(ro, 0)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{flash.Erased}, 16), ro)

	stats := tb.dev.Stats()
	require.Equal(t, uint64(1), stats.Update.Sessions)
	require.Equal(t, uint64(16), stats.Flash.Blocks)
	require.Equal(t, uint64(0), stats.Update.Failures)
}

func TestFirmwareUpdateAcrossQueueWrap(t *testing.T) {
	tb := newTestbed(t)
	c := tb.link.Update
	target, err := c.Start(tb.ctx)
	require.NoError(t, err)
	base := target.Offset
	image := make([]byte, testFlashSize-int(base))
	for i := range image {
		image[i] = byte(i*7 + 3)
	}
	// Start request plus two blocks of 1004 bytes leave the next block
	// header at offset 2044 of the host tx queue, across its wrap.
	require.NoError(t, c.TransferSection(tb.ctx, base, image[:1004]))
	require.NoError(t, c.TransferSection(tb.ctx, base+1004, image[1004:2008]))
	require.NoError(t, c.TransferSection(tb.ctx, base+2008, image[2008:3000]))
	require.NoError(t, c.Done(tb.ctx))

	got := make([]byte, 3000)
	_, err = tb.dev.Flash.Read(got, int64(base))
	require.NoError(t, err)
	require.True(t, bytes.Equal(image[:3000], got))
	require.Equal(t, uint64(3), tb.dev.Stats().Flash.Blocks)
	require.Equal(t, uint64(0), tb.dev.Stats().Update.Failures)
}

func TestHostCommands(t *testing.T) {
	tb := newTestbed(t)
	out, err := tb.link.HostCmd.Hello(tb.ctx, 0x10203040)
	require.NoError(t, err)
	require.Equal(t, uint32(0x11223344), out)

	ver, err := tb.link.HostCmd.Version(tb.ctx)
	require.NoError(t, err)
	require.Equal(t, flash.DefaultConfig.Version, ver.VersionRW)
	require.Equal(t, hostcmd.ImageRW, ver.CurrentImage)

	info, err := tb.link.HostCmd.ProtocolInfo(tb.ctx)
	require.NoError(t, err)
	require.Equal(t, hostcmd.DefaultMaxRequestSize, info.MaxRequest)

	require.NoError(t, tb.link.HostCmd.Reboot(tb.ctx, hostcmd.RebootCold))
	require.Eventually(t, func() bool { return tb.dev.Stats().Reboots == 1 }, 5*time.Second, 10*time.Millisecond)

	// Still serving after the reboot.
	out, err = tb.link.HostCmd.Hello(tb.ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x01020304), out)
}

func TestI2CBridge(t *testing.T) {
	tb := newTestbed(t)
	in, err := tb.link.I2C.Xfer(tb.ctx, 0, 0x50, []byte{0x10, 0xde, 0xad, 0xbe}, 0)
	require.NoError(t, err)
	require.Empty(t, in)

	in, err = tb.link.I2C.Xfer(tb.ctx, 0, 0x50, []byte{0x10}, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe}, in)

	_, err = tb.link.I2C.Xfer(tb.ctx, 0, 0x51, []byte{0}, 1)
	var statusErr *i2cbridge.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, i2cbridge.UnknownError, statusErr.Status)

	_, err = tb.link.I2C.Xfer(tb.ctx, 1, 0x50, []byte{0}, 1)
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, i2cbridge.PortInvalid, statusErr.Status)

	regs, ok := tb.dev.Bus.Peek(0, 0x50)
	require.True(t, ok)
	require.Equal(t, []byte{0xde, 0xad, 0xbe}, regs[0x10:0x13])
}

func TestCMSISDAP(t *testing.T) {
	tb := newTestbed(t)
	vendor, err := tb.link.DAP.InfoString(tb.ctx, dap.InfoVendor)
	require.NoError(t, err)
	require.Equal(t, dap.DefaultConfig.Vendor, vendor)

	mode, err := tb.link.DAP.Connect(tb.ctx, dap.ModeJTAG)
	require.NoError(t, err)
	require.Equal(t, dap.ModeJTAG, mode)
	require.Equal(t, dap.ModeJTAG, tb.dev.Target.Mode())

	executed, err := tb.link.DAP.ResetTarget(tb.ctx)
	require.NoError(t, err)
	require.True(t, executed)
	require.Equal(t, 1, tb.dev.Target.Resets())
}

func TestAttachExclusive(t *testing.T) {
	tb := newTestbed(t)
	require.Eventually(t, tb.dev.Attached, 5*time.Second, time.Millisecond)

	a, _ := transport.Pipe()
	require.Equal(t, ErrAttached, tb.dev.Attach(tb.ctx, a))

	_, err := tb.link.DAP.Connect(tb.ctx, dap.ModeJTAG)
	require.NoError(t, err)
	require.NoError(t, tb.link.Close())
	require.NoError(t, <-tb.detached)
	require.False(t, tb.dev.Attached())
	// Detaching drops the target connection.
	require.Equal(t, dap.ModeDefault, tb.dev.Target.Mode())

	host, dev := transport.Pipe()
	go tb.dev.Attach(tb.ctx, dev)
	link := NewLink(host)
	go link.Run(tb.ctx)
	out, err := link.HostCmd.Hello(tb.ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0x01020305), out)
	require.Equal(t, uint64(2), tb.dev.Stats().Links)
}

func TestCollector(t *testing.T) {
	tb := newTestbed(t)
	_, err := tb.link.HostCmd.Hello(tb.ctx, 0)
	require.NoError(t, err)
	require.Equal(t, len(metrics)+2*len(PortNames), testutil.CollectAndCount(NewCollector(tb.dev)))
}
