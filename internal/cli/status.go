package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/deploy"
	"github.com/compose-fleet/fleetctl/internal/engine"
	"github.com/compose-fleet/fleetctl/internal/state"
)

// newStatusCommand creates the "status" subcommand that shows compose service
// status per host along with the local release log.
func newStatusCommand(opts *Options) *cobra.Command {
	var (
		insecure bool
		local    bool
		filters  func() engine.RenderOptions
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show compose service status for targeted hosts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			s, err := loadSession(cmd, opts, false)
			if err != nil {
				return err
			}

			eng := engine.NewEngine()
			bundles, err := eng.PlanAll(s.cfg, s.inv, s.baseCtx, filters(), s.resolver())
			if err != nil {
				return err
			}
			if len(bundles) == 0 {
				logger.Warn("no host/role matched")
				return nil
			}

			store, err := state.NewStore(s.cfg.State, s.root)
			if err != nil {
				return err
			}
			for _, b := range bundles {
				rec, ok, err := store.Last(b.Host, b.Role)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\tlast deployed %s by %s\n", b.Host, b.Role, rec.DeployedAt.Format("2006-01-02 15:04:05"), rec.By)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\tno recorded deploy\n", b.Host, b.Role)
				}
			}
			if local {
				return nil
			}

			d := deploy.NewDeployer(logger, s.dialFunc(insecure), nil, s.baseCtx)
			return d.Status(ctx, bundles, deploy.Options{})
		},
	}

	cmd.Flags().BoolVar(&insecure, "insecure-ignore-host-key", false, "Skip SSH host key verification")
	cmd.Flags().BoolVar(&local, "local", false, "Only print the local release log, do not connect to hosts")
	addVarsFlags(cmd)
	addVaultFlags(cmd)
	filters = addFilterFlags(cmd)

	return cmd
}
