// Package main is the storeweave command line.
package main

import (
	"os"

	"github.com/roach88/storeweave/internal/cli"
)

// Version information (set by build)
var version = "dev"

func main() {
	cli.Version = version
	os.Exit(cli.Execute())
}
