package main

import (
	"os"

	"github.com/brooklyn-data/dbtenv/cmd/dbtenv/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
