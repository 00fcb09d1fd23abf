// Package main is the entry point of the mimic CLI.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/mimic/cmd/mimic/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
