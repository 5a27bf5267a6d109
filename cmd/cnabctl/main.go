// Command cnabctl is the ingestion pipeline's server and admin CLI: it
// starts the API/processing/recovery components and exposes operator
// commands (init, migrate, uploads, transactions) against a running
// deployment.
package main

import (
	"fmt"
	"os"

	"github.com/cnabflow/ingestor/cmd/cnabctl/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
