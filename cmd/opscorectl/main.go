// Package main is the entry point for opscorectl, the operator CLI that
// talks to a running opscore-updater's REST control API.
package main

import (
	"fmt"
	"os"

	"github.com/zetherion-ai/opscore/cmd/opscorectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
