package main

import (
	"errors"
	"os"

	"sockdrill/internal/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := cli.Root(version).Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
