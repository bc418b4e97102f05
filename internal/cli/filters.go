package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/engine"
)

// parseNameSet splits a comma-separated list into a normalized set.
func parseNameSet(raw string) map[string]struct{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		out[name] = struct{}{}
	}
	return out
}

// addVarsFlags registers the shared variable flags.
func addVarsFlags(cmd *cobra.Command) {
	cmd.Flags().String("vars", "", "Additional variables in k=v,k2=v2 format")
	cmd.Flags().String("var-file", "", "Path to YAML file with additional variables")
}

// addVaultFlags registers the vault passphrase flag.
func addVaultFlags(cmd *cobra.Command) {
	cmd.Flags().String("passphrase-file", "", "Path to a file holding the vault passphrase")
}

// addFilterFlags registers host/role filter flags and returns a getter that
// builds engine.RenderOptions from them.
func addFilterFlags(cmd *cobra.Command) func() engine.RenderOptions {
	var onlyRoles, skipRoles, onlyHosts, skipHosts, group string
	cmd.Flags().StringVar(&onlyRoles, "only-roles", "", "Restrict to selected roles (comma-separated names)")
	cmd.Flags().StringVar(&skipRoles, "skip-roles", "", "Skip selected roles (comma-separated names)")
	cmd.Flags().StringVar(&onlyHosts, "only-hosts", "", "Restrict to selected hosts (comma-separated names)")
	cmd.Flags().StringVar(&skipHosts, "skip-hosts", "", "Skip selected hosts (comma-separated names)")
	cmd.Flags().StringVar(&group, "group", "", "Restrict to targets of a single inventory group")

	return func() engine.RenderOptions {
		return engine.RenderOptions{
			OnlyRoles: parseNameSet(onlyRoles),
			SkipRoles: parseNameSet(skipRoles),
			OnlyHosts: parseNameSet(onlyHosts),
			SkipHosts: parseNameSet(skipHosts),
			Group:     group,
		}
	}
}
