// Package all registers every command of the shell.
package all

import (
	_ "github.com/robotalks/ec.go/pkg/cli/cmds/dap"
	_ "github.com/robotalks/ec.go/pkg/cli/cmds/hostcmd"
	_ "github.com/robotalks/ec.go/pkg/cli/cmds/i2c"
	_ "github.com/robotalks/ec.go/pkg/cli/cmds/update"
)
