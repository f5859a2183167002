// Package main is the entry point for the symposium conductor binary.
package main

import (
	"fmt"
	"os"

	"github.com/symposium-dev/symposium-conductor/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
