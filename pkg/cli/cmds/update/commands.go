package update

import (
	"context"
	"fmt"
	"os"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/ec.go/pkg/cli/sh"
	"github.com/robotalks/ec.go/pkg/ec"
	"github.com/robotalks/ec.go/pkg/update"
)

var (
	// UpdateCmd writes a firmware image.
	UpdateCmd = ishell.Cmd{
		Name:    "update",
		Aliases: []string{"u"},
		Help:    "FILE",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("FILE required"))
				return
			}
			image, err := os.ReadFile(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			s := sh.ShellFrom(c)
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				client := link.Update
				if s.Interactive && !s.OutputJSON {
					client.Progress = func(done, total int) {
						c.ProgressBar().Progress(done * 100 / total)
					}
					c.ProgressBar().Start()
					defer c.ProgressBar().Stop()
					defer func() { client.Progress = nil }()
				}
				return nil, client.Update(ctx, image)
			})
		}),
	}

	// UpdateStartCmd starts a session and prints what the device reports.
	UpdateStartCmd = ishell.Cmd{
		Name: "update.start",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return link.Update.Start(ctx)
			})
		}),
	}

	// UpdateUnlockCmd clears the write protection of the RO section.
	UpdateUnlockCmd = ishell.Cmd{
		Name: "update.unlock",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return extraStatus(link.Update.Extra(ctx, update.ExtraUnlockRW, nil, 1))
			})
		}),
	}

	// UpdateResetCmd resets the device immediately.
	UpdateResetCmd = ishell.Cmd{
		Name: "update.reset",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				return extraStatus(link.Update.Extra(ctx, update.ExtraImmediateReset, nil, 1))
			})
		}),
	}
)

func extraStatus(resp []byte, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if status := update.Status(resp[0]); status != update.Success {
		return nil, fmt.Errorf("extra command: %s", status)
	}
	return nil, nil
}

func init() {
	sh.AddCmds(
		&UpdateCmd,
		&UpdateStartCmd,
		&UpdateUnlockCmd,
		&UpdateResetCmd,
	)
}
