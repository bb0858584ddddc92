package main

import (
	"flag"

	env "github.com/robotalks/ec.go/pkg/env/device"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	env.NewConfig().MustNewEnv().RunOrFail()
}
