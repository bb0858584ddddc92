package hostcmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/ec.go/pkg/cli/sh"
	"github.com/robotalks/ec.go/pkg/ec"
	"github.com/robotalks/ec.go/pkg/hostcmd"
)

var rebootCmds = map[string]hostcmd.RebootCmd{
	"cancel": hostcmd.RebootCancel,
	"ro":     hostcmd.RebootJumpRO,
	"rw":     hostcmd.RebootJumpRW,
	"cold":   hostcmd.RebootCold,
}

var (
	// HelloCmd exposes the hello command.
	HelloCmd = ishell.Cmd{
		Name: "hello",
		Help: "[VALUE]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			var in uint64
			if len(c.Args) > 0 {
				val, err := strconv.ParseUint(c.Args[0], 0, 32)
				if err != nil {
					c.Err(fmt.Errorf("Invalid VALUE: %v", err))
					return
				}
				in = val
			}
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				out, err := link.HostCmd.Hello(ctx, uint32(in))
				return fmt.Sprintf("0x%08x", out), err
			})
		}),
	}

	// VersionCmd exposes the get version command.
	VersionCmd = ishell.Cmd{
		Name:    "version",
		Aliases: []string{"ver"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return link.HostCmd.Version(ctx)
			})
		}),
	}

	// ProtocolInfoCmd exposes the get protocol info command.
	ProtocolInfoCmd = ishell.Cmd{
		Name:    "protoinfo",
		Aliases: []string{"pi"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return link.HostCmd.ProtocolInfo(ctx)
			})
		}),
	}

	// RebootCmd exposes the reboot command.
	RebootCmd = ishell.Cmd{
		Name: "reboot",
		Help: "[cold|ro|rw|cancel]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			cmd := hostcmd.RebootCold
			if len(c.Args) > 0 {
				var ok bool
				if cmd, ok = rebootCmds[c.Args[0]]; !ok {
					c.Err(fmt.Errorf("Invalid reboot command %q", c.Args[0]))
					return
				}
			}
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return nil, link.HostCmd.Reboot(ctx, cmd)
			})
		}),
	}
)

func init() {
	sh.AddCmds(
		&HelloCmd,
		&VersionCmd,
		&ProtocolInfoCmd,
		&RebootCmd,
	)
}
