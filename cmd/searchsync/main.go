// Package main provides the entry point for the searchsync service.
package main

import (
	"os"

	"github.com/semweb/searchsync/cmd/searchsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
