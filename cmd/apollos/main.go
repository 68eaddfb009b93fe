// Package main provides the entry point for the apollos CLI.
package main

import (
	"os"

	"github.com/jrmatherly/apollos/cmd/apollos/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
