// Package main is the entry point for the taskledger CLI.
package main

import (
	"os"

	"github.com/taskledger/taskledger/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
