package dap

import (
	"context"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/ec.go/pkg/cli/sh"
	"github.com/robotalks/ec.go/pkg/dap"
	"github.com/robotalks/ec.go/pkg/ec"
)

// ProbeInfo is what a probe reports about itself.
type ProbeInfo struct {
	Vendor           string `json:"vendor"`
	Product          string `json:"product"`
	Serial           string `json:"serial"`
	Version          string `json:"version"`
	Capabilities     uint16 `json:"capabilities"`
	GoogCapabilities uint16 `json:"goog_capabilities"`
}

func probeInfo(ctx context.Context, client *dap.Client) (*ProbeInfo, error) {
	var info ProbeInfo
	strs := []struct {
		id  dap.InfoID
		dst *string
	}{
		{dap.InfoVendor, &info.Vendor},
		{dap.InfoProduct, &info.Product},
		{dap.InfoSerial, &info.Serial},
		{dap.InfoVersion, &info.Version},
	}
	var err error
	for _, s := range strs {
		if *s.dst, err = client.InfoString(ctx, s.id); err != nil {
			return nil, err
		}
	}
	if info.Capabilities, err = client.Capabilities(ctx); err != nil {
		return nil, err
	}
	if info.GoogCapabilities, err = client.GoogCapabilities(ctx); err != nil {
		return nil, err
	}
	return &info, nil
}

var modes = map[string]dap.Mode{
	"default": dap.ModeDefault,
	"swd":     dap.ModeSWD,
	"jtag":    dap.ModeJTAG,
}

var (
	// InfoCmd prints the probe information.
	InfoCmd = ishell.Cmd{
		Name: "dap.info",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return probeInfo(ctx, link.DAP)
			})
		}),
	}

	// ConnectCmd connects the probe to the target.
	ConnectCmd = ishell.Cmd{
		Name: "dap.connect",
		Help: "[default|swd|jtag]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			mode := dap.ModeDefault
			if len(c.Args) > 0 {
				var ok bool
				if mode, ok = modes[c.Args[0]]; !ok {
					c.Err(fmt.Errorf("Invalid mode %q", c.Args[0]))
					return
				}
			}
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return link.DAP.Connect(ctx, mode)
			})
		}),
	}

	// DisconnectCmd disconnects the probe from the target.
	DisconnectCmd = ishell.Cmd{
		Name: "dap.disconnect",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return nil, link.DAP.Disconnect(ctx)
			})
		}),
	}

	// ResetCmd resets the target.
	ResetCmd = ishell.Cmd{
		Name: "dap.reset",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				executed, err := link.DAP.ResetTarget(ctx)
				if err == nil && !executed {
					err = fmt.Errorf("reset not executed")
				}
				return nil, err
			})
		}),
	}

	// ClockCmd sets the debug clock.
	ClockCmd = ishell.Cmd{
		Name: "dap.clock",
		Help: "HZ",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("HZ required"))
				return
			}
			hz, err := strconv.ParseUint(c.Args[0], 0, 32)
			if err != nil {
				c.Err(fmt.Errorf("Invalid HZ: %v", err))
				return
			}
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return nil, link.DAP.SetClock(ctx, uint32(hz))
			})
		}),
	}
)

func init() {
	sh.AddCmds(
		&InfoCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&ResetCmd,
		&ClockCmd,
	)
}
