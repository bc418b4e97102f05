package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/engine"
	"github.com/compose-fleet/fleetctl/internal/inventory"
	"github.com/compose-fleet/fleetctl/internal/vault"
)

// newCheckCommand creates the "check" subcommand that validates the fleet
// repository without touching any host.
func newCheckCommand(opts *Options) *cobra.Command {
	var (
		remote   bool
		insecure bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate inventory, variables, templates and vault files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			var envDefaults varsEnv
			_ = parseEnv(&envDefaults)
			passphraseFile := flagOrDefault(cmd, "passphrase-file", envDefaults.PassphraseFile)
			withVault := vault.HasPassphraseSource(passphraseFile)

			s, err := loadSession(cmd, opts, withVault)
			if err != nil {
				return err
			}

			var problems []string
			report := func(format string, args ...any) {
				problems = append(problems, fmt.Sprintf(format, args...))
			}

			checkVarFiles(s, report)
			for _, host := range s.inv.Hosts() {
				if !hasHostVarFile(s.root, host.Name) {
					logger.Warn("host has no host_vars file", "host", host.Name)
				}
			}
			checkTargets(s, report)
			checkRoles(s, report)
			checkVaultFiles(s, report)
			if !withVault && len(s.cfg.VaultFiles) > 0 {
				logger.Warn("vault decryption not checked: no passphrase source (set FLEETCTL_VAULT_PASSPHRASE or --passphrase-file)")
			}
			checkGrafana(s, report)

			// A full render catches template errors and missing required vars.
			eng := engine.NewEngine()
			bundles, err := eng.RenderAll(s.cfg, s.inv, s.baseCtx, engine.RenderOptions{}, s.resolver())
			if err != nil {
				report("render: %v", err)
			}

			if remote && len(bundles) > 0 {
				checkRemote(cmd, s, bundles, insecure, report)
			}

			if len(problems) > 0 {
				for _, p := range problems {
					logger.Error(p)
				}
				return fmt.Errorf("check found %d problem(s)", len(problems))
			}
			logger.Info("check passed", "hosts", len(s.inv.Hosts()), "roles", len(s.cfg.Roles), "bundles", len(bundles))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Also connect to every host and verify the docker compose plugin")
	cmd.Flags().BoolVar(&insecure, "insecure-ignore-host-key", false, "Skip SSH host key verification")
	addVarsFlags(cmd)
	addVaultFlags(cmd)

	return cmd
}

// checkVarFiles cross-checks host_vars files against the inventory and makes
// sure scope files parse.
func checkVarFiles(s *session, report func(string, ...any)) {
	names, err := inventory.VarFileHosts(s.root)
	if err != nil {
		report("host_vars: %v", err)
		return
	}
	for _, name := range names {
		if _, ok := s.inv.Host(name); !ok {
			report("host_vars/%s has no matching inventory host", name)
		}
	}
	for _, host := range s.inv.Hosts() {
		if _, err := s.hostVars(host); err != nil {
			report("resolve vars for host %q: %v", host.Name, err)
		}
	}
}

// checkTargets verifies every target group exists in the inventory.
func checkTargets(s *session, report func(string, ...any)) {
	for _, target := range s.cfg.Targets {
		if !s.inv.HasGroup(target.Group) {
			report("target group %q not defined in inventory", target.Group)
			continue
		}
		hosts, err := s.inv.HostsInGroup(target.Group)
		if err != nil {
			report("target group %q: %v", target.Group, err)
			continue
		}
		if len(hosts) == 0 {
			report("target group %q has no hosts", target.Group)
		}
	}
}

// checkRoles verifies that every template and file a role references exists on
// disk.
func checkRoles(s *session, report func(string, ...any)) {
	for _, role := range s.cfg.Roles {
		if !fileExists(s.root, role.Compose) {
			report("role %q: compose template %q not found", role.Name, role.Compose)
		}
		if role.EnvTemplate != "" && !fileExists(s.root, role.EnvTemplate) {
			report("role %q: env template %q not found", role.Name, role.EnvTemplate)
		}
		for _, ref := range role.Files {
			if !fileExists(s.root, ref.Src) {
				report("role %q: file %q not found", role.Name, ref.Src)
			}
		}
	}
}

// checkVaultFiles verifies every vault file listed in fleet.yaml exists and
// carries the armored header. Decryption is covered by session loading when a
// passphrase source is available.
func checkVaultFiles(s *session, report func(string, ...any)) {
	for _, name := range s.cfg.VaultFiles {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.root, name)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			report("vault file %q: %v", name, err)
			continue
		}
		if !vault.IsEncrypted(raw) {
			report("vault file %q is not encrypted", name)
		}
	}
}

// checkGrafana verifies grafana settings are complete for the selected mode.
func checkGrafana(s *session, report func(string, ...any)) {
	g := s.cfg.Grafana
	if g == nil {
		return
	}
	switch g.Provisioning.Mode {
	case "git":
		if g.Provisioning.Git == nil || g.Provisioning.Git.Repo == "" {
			report("grafana: git provisioning requires provisioning.git.repo")
		}
	case "api":
		if g.URL == "" {
			report("grafana: api provisioning requires url")
		}
		hasToken := g.TokenVar != ""
		hasBasic := g.UsernameVar != "" && g.PasswordVar != ""
		if hasToken == hasBasic {
			report("grafana: api provisioning requires exactly one of tokenVar or usernameVar/passwordVar")
		}
		for _, org := range g.Provisioning.Orgs {
			if strings.TrimSpace(org.Name) == "" {
				report("grafana: org with empty name")
			}
		}
	}
}

// checkRemote connects to every bundle host and verifies the docker compose
// plugin is available.
func checkRemote(cmd *cobra.Command, s *session, bundles []engine.Bundle, insecure bool, report func(string, ...any)) {
	ctx := cmd.Context()
	logger := LoggerFromContext(ctx)
	dial := s.dialFunc(insecure)

	seen := make(map[string]struct{})
	for _, b := range bundles {
		if _, done := seen[b.Host]; done {
			continue
		}
		seen[b.Host] = struct{}{}

		client, err := dial(ctx, b.Host)
		if err != nil {
			report("host %q: %v", b.Host, err)
			continue
		}
		out, err := client.Output(ctx, "docker compose version")
		if err != nil {
			report("host %q: docker compose not available: %v", b.Host, err)
		} else {
			logger.Debug("remote check ok", "host", b.Host, "compose", strings.TrimSpace(string(out)))
		}
		_ = client.Close()
	}
}

func hasHostVarFile(root, host string) bool {
	for _, ext := range []string{".yaml", ".yml"} {
		if _, err := os.Stat(filepath.Join(root, "host_vars", host+ext)); err == nil {
			return true
		}
	}
	return false
}

func fileExists(root, rel string) bool {
	p := rel
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, rel)
	}
	_, err := os.Stat(p)
	return err == nil
}
