// Command fleetctl renders docker compose bundles from a fleet.yaml
// definition, deploys them to inventory hosts over SSH and drives the Grafana
// dashboard workflow.
package main

import (
	"os"

	"github.com/compose-fleet/fleetctl/internal/cli"
	"github.com/compose-fleet/fleetctl/internal/logging"
)

func main() {
	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
