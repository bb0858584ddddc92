package i2c

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/ec.go/pkg/cli/sh"
	"github.com/robotalks/ec.go/pkg/ec"
)

// Result is the outcome of a transfer.
type Result struct {
	Data []byte `json:"data"`
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if len(r.Data) == 0 {
		return "OK"
	}
	return hex.EncodeToString(r.Data)
}

var (
	// XferCmd runs an I2C transfer through the bridge.
	XferCmd = ishell.Cmd{
		Name:    "i2c",
		Aliases: []string{"i2c.xfer"},
		Help:    "PORT ADDR WRITE-HEX [READ-COUNT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 3 {
				c.Err(fmt.Errorf("PORT ADDR WRITE-HEX required"))
				return
			}
			port, err := strconv.ParseUint(c.Args[0], 0, 4)
			if err != nil {
				c.Err(fmt.Errorf("Invalid PORT: %v", err))
				return
			}
			addr, err := strconv.ParseUint(c.Args[1], 0, 7)
			if err != nil {
				c.Err(fmt.Errorf("Invalid ADDR: %v", err))
				return
			}
			out, err := hex.DecodeString(c.Args[2])
			if err != nil {
				c.Err(fmt.Errorf("Invalid WRITE-HEX: %v", err))
				return
			}
			var readCount uint64
			if len(c.Args) > 3 {
				if readCount, err = strconv.ParseUint(c.Args[3], 0, 15); err != nil {
					c.Err(fmt.Errorf("Invalid READ-COUNT: %v", err))
					return
				}
			}
			sh.Do(c, func(ctx context.Context, link *ec.Link) (any, error) {
				in, err := link.I2C.Xfer(ctx, int(port), uint8(addr), out, int(readCount))
				return Result{Data: in}, err
			})
		}),
	}
)

func init() {
	sh.AddCmds(&XferCmd)
}
