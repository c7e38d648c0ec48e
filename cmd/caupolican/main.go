// Package main is the entry point for the caupolican relay daemon.
package main

import (
	"os"

	"github.com/fifthbell/caupolican/cmd/caupolican/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
