// CLI entry point for OptiFlow.
package main

import (
	"os"

	"github.com/turtacn/OptiFlow/internal/app"
	"github.com/turtacn/OptiFlow/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
	app.Version = version
}

func main() {
	// Execute has already printed the error.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

//Personal.AI order the ending
