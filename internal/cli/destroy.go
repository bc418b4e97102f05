package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/deploy"
	"github.com/compose-fleet/fleetctl/internal/engine"
)

// newDestroyCommand creates the "destroy" subcommand that takes deployed
// compose stacks down.
func newDestroyCommand(opts *Options) *cobra.Command {
	var (
		parallel int
		failFast bool
		dryRun   bool
		insecure bool
		yes      bool
		filters  func() engine.RenderOptions
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Take compose stacks down on targeted hosts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			s, err := loadSession(cmd, opts, true)
			if err != nil {
				return err
			}

			eng := engine.NewEngine()
			bundles, err := eng.RenderAll(s.cfg, s.inv, s.baseCtx, filters(), s.resolver())
			if err != nil {
				return err
			}
			if len(bundles) == 0 {
				logger.Warn("nothing to destroy: no host/role matched")
				return nil
			}

			if !yes && !dryRun {
				if !confirmDestroy(cmd, bundles) {
					logger.Info("destroy aborted")
					return nil
				}
			}

			d := deploy.NewDeployer(logger, s.dialFunc(insecure), nil, s.baseCtx)
			runOpts := deploy.Options{Parallel: parallel, FailFast: failFast, DryRun: dryRun}

			if err := d.RunGlobalHooks(ctx, s.cfg.Hooks.BeforeAll); err != nil {
				return err
			}
			if err := d.Destroy(ctx, bundles, runOpts); err != nil {
				return err
			}
			if err := d.RunGlobalHooks(ctx, s.cfg.Hooks.AfterAll); err != nil {
				return err
			}

			logger.Info("destroy finished", "hosts", countHosts(bundles))
			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 4, "Maximum number of hosts worked on concurrently")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Abort remaining hosts after the first failure")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log planned actions without touching any host")
	cmd.Flags().BoolVar(&insecure, "insecure-ignore-host-key", false, "Skip SSH host key verification")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	addVarsFlags(cmd)
	addVaultFlags(cmd)
	filters = addFilterFlags(cmd)

	return cmd
}

// confirmDestroy prompts on stdin before stacks are taken down.
func confirmDestroy(cmd *cobra.Command, bundles []engine.Bundle) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "About to take down %d bundle(s) on %d host(s). Continue? [y/N] ", len(bundles), countHosts(bundles))
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
