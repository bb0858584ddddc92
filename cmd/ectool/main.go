package main

import (
	"github.com/robotalks/ec.go/pkg/cli/sh"
	env "github.com/robotalks/ec.go/pkg/env/host"

	_ "github.com/robotalks/ec.go/pkg/cli/cmds/all"
)

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
