package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/engine"
	"github.com/compose-fleet/fleetctl/internal/inventory"
	"github.com/compose-fleet/fleetctl/internal/sshexec"
	"github.com/compose-fleet/fleetctl/internal/vars"
	"github.com/compose-fleet/fleetctl/internal/vault"
)

// session bundles the loaded configuration, inventory and variable layers a
// command works with.
type session struct {
	cfg       *config.FleetConfig
	baseCtx   config.TemplateContext
	inv       *inventory.Inventory
	root      string
	vaultVars vars.Vars
	extraVars vars.Vars
}

// loadSession loads fleet.yaml, the inventory and the extra variable layers.
// With withVault set and vault files configured, the vault passphrase is
// resolved and the vault variables are decrypted and merged.
func loadSession(cmd *cobra.Command, opts *Options, withVault bool) (*session, error) {
	var envDefaults varsEnv
	_ = parseEnv(&envDefaults)

	inlineRaw := flagOrDefault(cmd, "vars", envDefaults.Vars)
	inlineVars, err := vars.ParseInline(inlineRaw)
	if err != nil {
		return nil, err
	}

	varFile := flagOrDefault(cmd, "var-file", envDefaults.VarFile)
	var varFiles []string
	if varFile != "" {
		varFiles = append(varFiles, varFile)
	}

	cfg, baseCtx, err := config.Load(opts.ConfigPath, config.LoadOptions{
		UserVars: inlineVars,
		VarFiles: varFiles,
	})
	if err != nil {
		return nil, err
	}

	invPath := opts.InventoryPath
	if invPath == "" {
		invPath = cfg.Inventory
	}
	if !filepath.IsAbs(invPath) {
		invPath = filepath.Join(baseCtx.ProjectRoot, invPath)
	}
	inv, err := inventory.Load(invPath)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		baseCtx:   baseCtx,
		inv:       inv,
		root:      baseCtx.ProjectRoot,
		extraVars: baseCtx.Vars,
	}

	if withVault && len(cfg.VaultFiles) > 0 {
		passphraseFile := flagOrDefault(cmd, "passphrase-file", envDefaults.PassphraseFile)
		passphrase, err := vault.ReadPassphrase(passphraseFile, false)
		if err != nil {
			return nil, err
		}
		vaultVars, err := vault.LoadVars(s.root, cfg.VaultFiles, passphrase)
		if err != nil {
			return nil, err
		}
		s.vaultVars = vaultVars
	}

	return s, nil
}

// resolver returns the per-host variable resolver used by the engine.
func (s *session) resolver() engine.VarResolver {
	return func(host *inventory.Host, role config.Role) (vars.Vars, error) {
		return s.inv.ResolveHostVars(host, inventory.VarSources{
			Dir:       s.root,
			Defaults:  role.Defaults,
			VaultVars: s.vaultVars,
			ExtraVars: s.extraVars,
		})
	}
}

// hostVars resolves variables for a host outside of any role scope.
func (s *session) hostVars(host *inventory.Host) (vars.Vars, error) {
	return s.inv.ResolveHostVars(host, inventory.VarSources{
		Dir:       s.root,
		VaultVars: s.vaultVars,
		ExtraVars: s.extraVars,
	})
}

// fleetVars resolves fleet-level variables (group_vars/all plus vault and
// extra layers), used where no host scope applies, e.g. the Grafana API
// commands.
func (s *session) fleetVars() (vars.Vars, error) {
	all := make(vars.Vars)
	for _, name := range []string{"all.yaml", "all.yml"} {
		loaded, err := vars.LoadVarFile(filepath.Join(s.root, "group_vars", name))
		if err == nil {
			all = loaded
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return vars.Merge(all, s.vaultVars, s.extraVars), nil
}

// sshConfig builds the SSH connection settings for a host from fleet.yaml
// defaults and the host's resolved ssh_* variables.
func (s *session) sshConfig(host *inventory.Host, insecure bool) (sshexec.Config, error) {
	resolved, err := s.hostVars(host)
	if err != nil {
		return sshexec.Config{}, err
	}

	cfg := sshexec.Config{
		Host:                  host.Name,
		Port:                  s.cfg.SSH.Port,
		User:                  s.cfg.SSH.User,
		IdentityFile:          s.cfg.SSH.IdentityFile,
		KnownHostsFile:        s.cfg.SSH.KnownHostsFile,
		InsecureIgnoreHostKey: insecure,
	}
	if v, ok := resolved.String("ssh_host"); ok {
		cfg.Host = v
	}
	if v, ok := resolved.String("ssh_user"); ok {
		cfg.User = v
	}
	if v, ok := resolved.Int("ssh_port"); ok {
		cfg.Port = v
	}
	if v, ok := resolved.String("ssh_identity_file"); ok {
		cfg.IdentityFile = v
	}
	if v, ok := resolved.String("ssh_password"); ok {
		cfg.Password = v
	}
	return cfg, nil
}

// dialFunc returns a deploy.DialFunc over the session's inventory.
func (s *session) dialFunc(insecure bool) func(ctx context.Context, name string) (*sshexec.Client, error) {
	return func(ctx context.Context, name string) (*sshexec.Client, error) {
		host, ok := s.inv.Host(name)
		if !ok {
			return nil, fmt.Errorf("host %q not in inventory", name)
		}
		cfg, err := s.sshConfig(host, insecure)
		if err != nil {
			return nil, err
		}
		return sshexec.Dial(ctx, name, cfg)
	}
}

// flagOrDefault returns the flag value when the flag exists and is non-empty,
// otherwise the fallback.
func flagOrDefault(cmd *cobra.Command, name, fallback string) string {
	flag := cmd.Flag(name)
	if flag == nil {
		return fallback
	}
	if v := flag.Value.String(); v != "" {
		return v
	}
	return fallback
}
