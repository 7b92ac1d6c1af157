// Package main provides the CLI for the mixpipe marketing mix modeling pipeline.
package main

import (
	"os"

	"github.com/mixstack-labs/mixpipe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
