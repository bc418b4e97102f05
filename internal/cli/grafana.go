package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/gitsync"
	"github.com/compose-fleet/fleetctl/internal/grafana"
	"github.com/compose-fleet/fleetctl/internal/vars"
)

// newGrafanaCommand creates the "grafana" command group covering dashboard
// export and provisioning.
func newGrafanaCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grafana",
		Short: "Export Grafana dashboards and provision orgs, users and datasources",
	}

	cmd.AddCommand(
		newGrafanaExportCommand(opts),
		newGrafanaProvisionCommand(opts),
	)
	return cmd
}

// grafanaOverrides carries connection values passed directly on the command
// line. They take precedence over the fleet.yaml grafana section, so export
// can run against an arbitrary instance without a configured project.
type grafanaOverrides struct {
	url      string
	token    string
	username string
	password string
	insecure bool
}

func addGrafanaConnFlags(cmd *cobra.Command, o *grafanaOverrides) {
	cmd.Flags().StringVar(&o.url, "url", "", "Grafana base URL (overrides fleet.yaml)")
	cmd.Flags().StringVar(&o.token, "token", "", "API token (overrides fleet.yaml tokenVar)")
	cmd.Flags().StringVar(&o.username, "username", "", "Basic auth username (overrides fleet.yaml usernameVar)")
	cmd.Flags().StringVar(&o.password, "password", "", "Basic auth password (overrides fleet.yaml passwordVar)")
	cmd.Flags().BoolVar(&o.insecure, "insecure", false, "Skip TLS certificate verification")
}

func newGrafanaExportCommand(opts *Options) *cobra.Command {
	var (
		conn      grafanaOverrides
		outDir    string
		overwrite bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download every dashboard as a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			s, err := loadSession(cmd, opts, true)
			if err != nil {
				return err
			}
			gcfg := s.cfg.Grafana

			client, err := grafanaClient(s, gcfg, conn, logger)
			if err != nil {
				return err
			}

			dir := outDir
			if dir == "" && gcfg != nil {
				dir = gcfg.ExportDir
			}
			if dir == "" {
				dir = "dashboards"
			}
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(s.root, dir)
			}

			n, err := client.ExportDashboards(ctx, grafana.ExportOptions{
				OutDir:    dir,
				Overwrite: overwrite,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			logger.Info("dashboards exported", "count", n, "dir", dir)
			return nil
		},
	}

	addGrafanaConnFlags(cmd, &conn)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default from fleet.yaml, then \"dashboards\")")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing dashboard files")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of dashboards to list (0 uses the API default)")
	addVarsFlags(cmd)
	addVaultFlags(cmd)
	return cmd
}

func newGrafanaProvisionCommand(opts *Options) *cobra.Command {
	var (
		conn   grafanaOverrides
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision dashboards, orgs, users and datasources per fleet.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			s, err := loadSession(cmd, opts, true)
			if err != nil {
				return err
			}
			gcfg := s.cfg.Grafana
			if gcfg == nil {
				return fmt.Errorf("fleet.yaml has no grafana section")
			}
			prov := gcfg.Provisioning

			switch prov.Mode {
			case "", "file":
				dir := provisioningDir(s.root, outDir)
				if err := grafana.WriteFileProvisioning(prov, dir); err != nil {
					return err
				}
				logger.Info("file provisioning written", "dir", dir)
				return nil

			case "git":
				if prov.Git == nil || prov.Git.Repo == "" {
					return fmt.Errorf("git provisioning requires provisioning.git.repo")
				}
				dashDir := prov.DashboardsDir
				if dashDir == "" {
					dashDir = "dashboards"
				}
				if !filepath.IsAbs(dashDir) {
					dashDir = filepath.Join(s.root, dashDir)
				}
				if err := gitsync.Sync(ctx, logger, prov.Git.Repo, prov.Git.Ref, dashDir); err != nil {
					return err
				}
				dir := provisioningDir(s.root, outDir)
				if err := grafana.WriteFileProvisioning(prov, dir); err != nil {
					return err
				}
				logger.Info("git provisioning done", "dashboards", dashDir, "provisioning", dir)
				return nil

			case "api":
				client, err := grafanaClient(s, gcfg, conn, logger)
				if err != nil {
					return err
				}
				resolved, err := s.fleetVars()
				if err != nil {
					return err
				}
				if err := client.EnsureOrgs(ctx, prov.Orgs, resolved, logger); err != nil {
					return err
				}
				logger.Info("api provisioning done", "orgs", len(prov.Orgs))
				return nil

			default:
				return fmt.Errorf("unknown grafana provisioning mode %q", prov.Mode)
			}
		},
	}

	addGrafanaConnFlags(cmd, &conn)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Provisioning output directory (default grafana/provisioning)")
	addVarsFlags(cmd)
	addVaultFlags(cmd)
	return cmd
}

func provisioningDir(root, override string) string {
	dir := override
	if dir == "" {
		dir = filepath.Join("grafana", "provisioning")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir
}

// grafanaClient builds an API client. Connection values come from the command
// line overrides first, then from the fleet.yaml grafana section, where
// credentials are indirected through the variables named by
// tokenVar/usernameVar/passwordVar. gcfg may be nil when the overrides carry
// everything.
func grafanaClient(s *session, gcfg *config.GrafanaConfig, conn grafanaOverrides, logger *slog.Logger) (*grafana.Client, error) {
	baseURL := conn.url
	if baseURL == "" && gcfg != nil {
		baseURL = gcfg.URL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("grafana url not set (fleet.yaml grafana.url or --url)")
	}

	opts := grafana.Options{
		URL:                baseURL,
		InsecureSkipVerify: conn.insecure || (gcfg != nil && gcfg.Insecure),
	}

	switch {
	case conn.token != "":
		opts.Token = conn.token
	case conn.username != "" && conn.password != "":
		opts.Username = conn.username
		opts.Password = conn.password
	case gcfg == nil:
		return nil, fmt.Errorf("grafana credentials not set: pass --token or --username/--password")
	default:
		resolved, err := s.fleetVars()
		if err != nil {
			return nil, err
		}
		switch {
		case gcfg.TokenVar != "":
			token, ok := lookupVar(resolved, gcfg.TokenVar)
			if !ok {
				return nil, fmt.Errorf("variable %q (grafana.tokenVar) not set", gcfg.TokenVar)
			}
			opts.Token = token
		case gcfg.UsernameVar != "" && gcfg.PasswordVar != "":
			user, ok := lookupVar(resolved, gcfg.UsernameVar)
			if !ok {
				return nil, fmt.Errorf("variable %q (grafana.usernameVar) not set", gcfg.UsernameVar)
			}
			pass, ok := lookupVar(resolved, gcfg.PasswordVar)
			if !ok {
				return nil, fmt.Errorf("variable %q (grafana.passwordVar) not set", gcfg.PasswordVar)
			}
			opts.Username = user
			opts.Password = pass
		default:
			return nil, fmt.Errorf("grafana credentials not configured: pass --token or --username/--password, or set tokenVar or usernameVar/passwordVar")
		}
	}

	return grafana.NewClient(opts, logger)
}

// lookupVar resolves a possibly dotted variable name against a variable set.
func lookupVar(resolved vars.Vars, name string) (string, bool) {
	if v, ok := resolved.String(name); ok {
		return v, true
	}
	flat := vars.Flatten(resolved)
	v, ok := flat[name]
	return v, ok && v != ""
}
