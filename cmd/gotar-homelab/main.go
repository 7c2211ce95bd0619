// Package main is the entry point for gotar-homelab.
package main

import (
	"fmt"
	"os"

	"github.com/fgeck/gotar-homelab/internal/models"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gotar-homelab: %v\n", err)
		os.Exit(models.KindOf(err).ExitCode())
	}
}
