package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/buildinfo"
)

// newVersionCommand creates the "version" subcommand.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fleetctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fleetctl %s\n", buildinfo.Version)
			if buildinfo.Commit != "" {
				fmt.Fprintf(out, "commit: %s\n", buildinfo.Commit)
			}
			fmt.Fprintf(out, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
