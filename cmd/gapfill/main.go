// Package main is the entry point for gapfill, the background market data
// synchronization engine.
package main

import (
	"os"

	"github.com/aristath/gapfill/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
