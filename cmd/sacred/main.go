// Package main is the entry point of the sacred CLI.
package main

import (
	"os"

	"github.com/Gracecr/sacred/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
