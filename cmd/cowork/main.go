// Package main provides the entry point for the cowork CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/cowork/cmd/cowork/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
