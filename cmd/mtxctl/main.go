// Package main is the entry point for the mtxctl control plane.
package main

import (
	"os"

	"github.com/dan246/mtx-toolkit/cmd/mtxctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
