package cli

import (
	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/deploy"
	"github.com/compose-fleet/fleetctl/internal/engine"
	"github.com/compose-fleet/fleetctl/internal/state"
)

// newDeployCommand creates the "deploy" subcommand that renders bundles and
// applies them to inventory hosts over SSH.
func newDeployCommand(opts *Options) *cobra.Command {
	var (
		parallel int
		failFast bool
		dryRun   bool
		insecure bool
		filters  func() engine.RenderOptions
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Render and deploy compose bundles to inventory hosts",
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
				logger.Warn("nothing to deploy: no host/role matched")
				return nil
			}

			var store *state.Store
			if !dryRun {
				store, err = state.NewStore(s.cfg.State, s.root)
				if err != nil {
					return err
				}
			}

			var envDefaults deployEnv
			_ = parseEnv(&envDefaults)
			if !cmd.Flags().Changed("parallel") && envDefaults.Parallel > 0 {
				parallel = envDefaults.Parallel
			}
			if !cmd.Flags().Changed("fail-fast") && envDefaults.FailFast {
				failFast = true
			}

			d := deploy.NewDeployer(logger, s.dialFunc(insecure), store, s.baseCtx)
			runOpts := deploy.Options{Parallel: parallel, FailFast: failFast, DryRun: dryRun}

			if err := d.RunGlobalHooks(ctx, s.cfg.Hooks.BeforeAll); err != nil {
				return err
			}
			if err := d.Deploy(ctx, bundles, runOpts); err != nil {
				return err
			}
			if err := d.RunGlobalHooks(ctx, s.cfg.Hooks.AfterAll); err != nil {
				return err
			}

			logger.Info("deploy finished", "hosts", countHosts(bundles), "bundles", len(bundles))
			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 4, "Maximum number of hosts deployed concurrently")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Abort remaining hosts after the first failure")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log planned actions without touching any host")
	cmd.Flags().BoolVar(&insecure, "insecure-ignore-host-key", false, "Skip SSH host key verification")
	addVarsFlags(cmd)
	addVaultFlags(cmd)
	filters = addFilterFlags(cmd)

	return cmd
}
