// Package engine renders per-host compose bundles from role templates.
package engine

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/inventory"
	"github.com/compose-fleet/fleetctl/internal/vars"
)

// ComposeFileName is the rendered compose file name inside every bundle.
const ComposeFileName = "compose.yaml"

// EnvFileName is the rendered environment file name inside every bundle.
const EnvFileName = ".env"

// Engine renders role templates into deployable bundles.
type Engine struct{}

// NewEngine constructs a new Engine instance.
func NewEngine() *Engine {
	return &Engine{}
}

// RenderOptions filters which hosts and roles are rendered.
type RenderOptions struct {
	OnlyRoles map[string]struct{}
	SkipRoles map[string]struct{}
	OnlyHosts map[string]struct{}
	SkipHosts map[string]struct{}
	// Group restricts rendering to targets of a single inventory group.
	Group string
}

// Bundle is the rendered artifact set for one role on one host: the compose
// file, the optional .env file and any role files, with the directory the
// bundle lives in on the target host.
type Bundle struct {
	// Host is the inventory hostname the bundle is for.
	Host string
	// Group is the inventory group the host was targeted through.
	Group string
	// Role is the role name.
	Role string
	// RemoteDir is the bundle directory on the target host.
	RemoteDir string
	// Files are the rendered bundle files in deterministic order.
	Files []BundleFile
	// Vars are the resolved variables the bundle was rendered with.
	Vars vars.Vars
	// Hooks are the role hooks to run around this bundle.
	Hooks config.RoleHooks
}

// BundleFile is a single rendered file within a bundle.
type BundleFile struct {
	// Path is the file path relative to the bundle directory.
	Path string
	// Data is the rendered content.
	Data []byte
	// Mode is the file mode on the target host.
	Mode os.FileMode
}

// VarResolver resolves the merged variables for a host, with role defaults as
// the lowest layer.
type VarResolver func(host *inventory.Host, role config.Role) (vars.Vars, error)

// RenderAll renders bundles for every targeted host and role that passes the
// filters and when expressions. Hosts keep inventory order; roles keep target
// order per host.
func (e *Engine) RenderAll(cfg *config.FleetConfig, inv *inventory.Inventory, base config.TemplateContext, opts RenderOptions, resolve VarResolver) ([]Bundle, error) {
	var bundles []Bundle
	rendered := make(map[string]struct{})

	for _, target := range cfg.Targets {
		if opts.Group != "" && !strings.EqualFold(opts.Group, target.Group) {
			continue
		}
		ok, err := config.EvaluateWhen("target", target.When, base)
		if err != nil {
			return nil, fmt.Errorf("evaluate when for target group %q: %w", target.Group, err)
		}
		if !ok {
			continue
		}

		hosts, err := inv.HostsInGroup(target.Group)
		if err != nil {
			return nil, fmt.Errorf("resolve target group %q: %w", target.Group, err)
		}

		for _, host := range hosts {
			if !included(host.Name, opts.OnlyHosts, opts.SkipHosts) {
				continue
			}
			for _, roleName := range target.Roles {
				if !included(roleName, opts.OnlyRoles, opts.SkipRoles) {
					continue
				}
				key := host.Name + "/" + roleName
				if _, done := rendered[key]; done {
					continue
				}

				role, ok := cfg.Role(roleName)
				if !ok {
					return nil, fmt.Errorf("target group %q references undefined role %q", target.Group, roleName)
				}

				bundle, enabled, err := e.renderRole(cfg, base, host, target.Group, role, resolve)
				if err != nil {
					return nil, err
				}
				if !enabled {
					continue
				}
				rendered[key] = struct{}{}
				bundles = append(bundles, bundle)
			}
		}
	}
	return bundles, nil
}

// PlanAll lists the bundles RenderAll would produce without rendering any
// template file. Used by commands that only need host, role and remote
// directory information, e.g. status.
func (e *Engine) PlanAll(cfg *config.FleetConfig, inv *inventory.Inventory, base config.TemplateContext, opts RenderOptions, resolve VarResolver) ([]Bundle, error) {
	var bundles []Bundle
	planned := make(map[string]struct{})

	for _, target := range cfg.Targets {
		if opts.Group != "" && !strings.EqualFold(opts.Group, target.Group) {
			continue
		}
		ok, err := config.EvaluateWhen("target", target.When, base)
		if err != nil {
			return nil, fmt.Errorf("evaluate when for target group %q: %w", target.Group, err)
		}
		if !ok {
			continue
		}

		hosts, err := inv.HostsInGroup(target.Group)
		if err != nil {
			return nil, fmt.Errorf("resolve target group %q: %w", target.Group, err)
		}

		for _, host := range hosts {
			if !included(host.Name, opts.OnlyHosts, opts.SkipHosts) {
				continue
			}
			for _, roleName := range target.Roles {
				if !included(roleName, opts.OnlyRoles, opts.SkipRoles) {
					continue
				}
				key := host.Name + "/" + roleName
				if _, done := planned[key]; done {
					continue
				}

				role, ok := cfg.Role(roleName)
				if !ok {
					return nil, fmt.Errorf("target group %q references undefined role %q", target.Group, roleName)
				}

				hostVars, err := resolve(host, role)
				if err != nil {
					return nil, fmt.Errorf("resolve vars for host %q: %w", host.Name, err)
				}
				ctx := base
				ctx.Host = host.Name
				ctx.Group = target.Group
				ctx.Role = role.Name
				ctx.Vars = hostVars
				ctx.RemoteDir = remoteDir(cfg.Project, role)
				enabled, err := config.EvaluateWhen("role", role.When, ctx)
				if err != nil {
					return nil, fmt.Errorf("evaluate when for role %q on host %q: %w", role.Name, host.Name, err)
				}
				if !enabled {
					continue
				}

				planned[key] = struct{}{}
				bundles = append(bundles, Bundle{
					Host:      host.Name,
					Group:     target.Group,
					Role:      role.Name,
					RemoteDir: ctx.RemoteDir,
					Vars:      hostVars,
					Hooks:     role.Hooks,
				})
			}
		}
	}
	return bundles, nil
}

// renderRole renders one role for one host. The returned enabled flag is false
// when the role's when expression disables it for this host.
func (e *Engine) renderRole(cfg *config.FleetConfig, base config.TemplateContext, host *inventory.Host, group string, role config.Role, resolve VarResolver) (Bundle, bool, error) {
	hostVars, err := resolve(host, role)
	if err != nil {
		return Bundle{}, false, fmt.Errorf("resolve vars for host %q: %w", host.Name, err)
	}

	ctx := base
	ctx.Host = host.Name
	ctx.Group = group
	ctx.Role = role.Name
	ctx.Vars = hostVars
	ctx.RemoteDir = remoteDir(cfg.Project, role)

	ok, err := config.EvaluateWhen("role", role.When, ctx)
	if err != nil {
		return Bundle{}, false, fmt.Errorf("evaluate when for role %q on host %q: %w", role.Name, host.Name, err)
	}
	if !ok {
		return Bundle{}, false, nil
	}

	if err := checkRequiredVars(role, hostVars, host.Name); err != nil {
		return Bundle{}, false, err
	}

	bundle := Bundle{
		Host:      host.Name,
		Group:     group,
		Role:      role.Name,
		RemoteDir: ctx.RemoteDir,
		Vars:      hostVars,
		Hooks:     role.Hooks,
	}

	composeData, err := e.renderFile(ctx, role.Compose)
	if err != nil {
		return Bundle{}, false, fmt.Errorf("render compose for role %q on host %q: %w", role.Name, host.Name, err)
	}
	if err := validateCompose(composeData); err != nil {
		return Bundle{}, false, fmt.Errorf("role %q on host %q: %w", role.Name, host.Name, err)
	}
	bundle.Files = append(bundle.Files, BundleFile{Path: ComposeFileName, Data: composeData, Mode: 0o644})

	if role.EnvTemplate != "" {
		envData, err := e.renderFile(ctx, role.EnvTemplate)
		if err != nil {
			return Bundle{}, false, fmt.Errorf("render env file for role %q on host %q: %w", role.Name, host.Name, err)
		}
		bundle.Files = append(bundle.Files, BundleFile{Path: EnvFileName, Data: envData, Mode: 0o600})
	}

	for _, ref := range role.Files {
		file, err := e.renderFileRef(ctx, ref)
		if err != nil {
			return Bundle{}, false, fmt.Errorf("render file %q for role %q on host %q: %w", ref.Src, role.Name, host.Name, err)
		}
		bundle.Files = append(bundle.Files, file)
	}

	return bundle, true, nil
}

// renderFile reads a template relative to the project root and renders it.
func (e *Engine) renderFile(ctx config.TemplateContext, relPath string) ([]byte, error) {
	fullPath := relPath
	if !filepath.IsAbs(fullPath) && ctx.ProjectRoot != "" {
		fullPath = filepath.Join(ctx.ProjectRoot, relPath)
	}
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read template %q: %w", fullPath, err)
	}
	return config.RenderTemplate(relPath, raw, ctx)
}

func (e *Engine) renderFileRef(ctx config.TemplateContext, ref config.FileRef) (BundleFile, error) {
	if strings.TrimSpace(ref.Src) == "" {
		return BundleFile{}, fmt.Errorf("file entry with empty src")
	}

	dest := ref.Dest
	if dest == "" {
		dest = filepath.Base(ref.Src)
	}
	if path.IsAbs(dest) || strings.Contains(dest, "..") {
		return BundleFile{}, fmt.Errorf("file dest %q must be a relative path inside the bundle", dest)
	}

	mode := os.FileMode(0o644)
	if ref.Mode != "" {
		parsed, err := strconv.ParseUint(ref.Mode, 8, 32)
		if err != nil {
			return BundleFile{}, fmt.Errorf("invalid file mode %q: %w", ref.Mode, err)
		}
		mode = os.FileMode(parsed)
	}

	var data []byte
	var err error
	if ref.Template {
		data, err = e.renderFile(ctx, ref.Src)
	} else {
		src := ref.Src
		if !filepath.IsAbs(src) && ctx.ProjectRoot != "" {
			src = filepath.Join(ctx.ProjectRoot, src)
		}
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return BundleFile{}, err
	}
	return BundleFile{Path: dest, Data: data, Mode: mode}, nil
}

// validateCompose checks that rendered compose output is parseable YAML with a
// services section.
func validateCompose(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("rendered compose file is not valid YAML: %w", err)
	}
	if _, ok := doc["services"]; !ok {
		return fmt.Errorf("rendered compose file has no services section")
	}
	return nil
}

func remoteDir(project string, role config.Role) string {
	if role.RemoteDir != "" {
		return role.RemoteDir
	}
	return path.Join("/opt", project, role.Name)
}

func included(name string, only, skip map[string]struct{}) bool {
	key := strings.ToLower(strings.TrimSpace(name))
	if len(only) > 0 {
		if _, ok := only[key]; !ok {
			return false
		}
	}
	_, skipped := skip[key]
	return !skipped
}

// checkRequiredVars verifies that every variable key a role requires resolves
// for the host. Keys may be dotted paths into nested variables.
func checkRequiredVars(role config.Role, hostVars vars.Vars, host string) error {
	if len(role.Requires) == 0 {
		return nil
	}
	flat := vars.Flatten(hostVars)
	var missing []string
	for _, key := range role.Requires {
		if _, ok := flat[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("role %q on host %q is missing required variables: %s", role.Name, host, strings.Join(missing, ", "))
	}
	return nil
}
