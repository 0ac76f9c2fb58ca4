package main

import (
	"os"

	"github.com/majorcontext/pledge/cmd/pledge/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
