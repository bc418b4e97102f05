package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/engine"
)

// newRenderCommand creates the "render" subcommand that renders compose
// bundles from fleet.yaml.
func newRenderCommand(opts *Options) *cobra.Command {
	var (
		outputDir      string
		toStdout       bool
		includeSecrets bool
		filters        func() engine.RenderOptions
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render compose bundles for all targeted hosts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			s, err := loadSession(cmd, opts, includeSecrets)
			if err != nil {
				return err
			}
			if !includeSecrets && len(s.cfg.VaultFiles) > 0 {
				logger.Warn("vault variables skipped; pass --include-secrets to render them to disk")
			}

			eng := engine.NewEngine()
			bundles, err := eng.RenderAll(s.cfg, s.inv, s.baseCtx, filters(), s.resolver())
			if err != nil {
				return err
			}
			if len(bundles) == 0 {
				logger.Warn("nothing to render: no host/role matched")
				return nil
			}

			if toStdout {
				for _, b := range bundles {
					for _, f := range b.Files {
						fmt.Fprintf(os.Stdout, "# %s/%s/%s\n", b.Host, b.Role, f.Path)
						_, _ = os.Stdout.Write(f.Data)
						fmt.Fprintln(os.Stdout)
					}
				}
				return nil
			}

			if err := engine.WriteBundles(outputDir, bundles); err != nil {
				return err
			}
			logger.Info("rendered bundles", "hosts", countHosts(bundles), "bundles", len(bundles), "dir", outputDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "rendered", "Output directory for rendered bundles")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Print rendered bundles to stdout instead of files")
	cmd.Flags().BoolVar(&includeSecrets, "include-secrets", false, "Decrypt vault variables and render them into the output")
	addVarsFlags(cmd)
	addVaultFlags(cmd)
	filters = addFilterFlags(cmd)

	return cmd
}

func countHosts(bundles []engine.Bundle) int {
	seen := make(map[string]struct{})
	for _, b := range bundles {
		seen[b.Host] = struct{}{}
	}
	return len(seen)
}
