// Package cli defines the command-line interface for fleetctl.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/logging"
)

const (
	// defaultConfigPath is the default path to the fleet configuration file.
	defaultConfigPath = "fleet.yaml"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath    string
	InventoryPath string
	LogLevel      logging.Level
}

// Execute builds the root command, runs it with the provided args and logger,
// and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   logging.LevelInfo,
	}
	applyBaseEnv(rootOpts)

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and
// subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleetctl",
		Short: "fleetctl is a declarative fleet provisioning helper",
		Long:  "fleetctl renders docker compose bundles from a fleet.yaml definition,\ndeploys them to inventory hosts over SSH, and manages the Grafana\ndashboard export and provisioning workflow.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Path to fleet.yaml configuration file")
	cmd.PersistentFlags().StringVar(&opts.InventoryPath, "inventory", opts.InventoryPath, "Inventory file override")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRenderCommand(opts),
		newDeployCommand(opts),
		newDestroyCommand(opts),
		newStatusCommand(opts),
		newCheckCommand(opts),
		newInventoryCommand(opts),
		newVaultCommand(opts),
		newGrafanaCommand(opts),
		newVersionCommand(),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command
// contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a
// default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
