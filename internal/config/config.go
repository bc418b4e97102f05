// Package config contains the loader and strongly typed model for fleet.yaml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/compose-fleet/fleetctl/internal/buildinfo"
	"github.com/compose-fleet/fleetctl/internal/vars"
)

// FleetConfig represents the declarative description of the fleet: roles,
// group targets and external-service provisioning. It mirrors the structure of
// fleet.yaml after template rendering.
type FleetConfig struct {
	// Project is the short project name used in remote paths and defaults.
	Project string `yaml:"project"`
	// Requires is an optional semver constraint on the fleetctl version.
	Requires string `yaml:"requires,omitempty"`
	// Inventory is the inventory file path relative to the project root.
	Inventory string `yaml:"inventory,omitempty"`
	// EnvFiles lists .env files to load before rendering.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// VaultFiles lists encrypted variable files to merge. Vault files are
	// never discovered implicitly; only entries listed here are loaded.
	VaultFiles []string `yaml:"vaultFiles,omitempty"`
	// Versions provides named version strings available in templates.
	Versions map[string]string `yaml:"versions,omitempty"`
	// SSH holds fleet-wide connection defaults, overridable per host.
	SSH SSHConfig `yaml:"ssh,omitempty"`
	// Roles lists the deployable role definitions.
	Roles []Role `yaml:"roles,omitempty"`
	// Targets maps inventory groups to the roles deployed on them.
	Targets []Target `yaml:"targets,omitempty"`
	// Grafana configures dashboard export and provisioning.
	Grafana *GrafanaConfig `yaml:"grafana,omitempty"`
	// Hooks defines global hook steps around fleet operations.
	Hooks HookSet `yaml:"hooks,omitempty"`
	// State describes where the local release log is stored.
	State StateConfig `yaml:"state,omitempty"`
}

// SSHConfig describes how fleetctl connects to managed hosts. Inventory host
// vars ssh_host, ssh_user, ssh_port and ssh_identity_file override these
// per host.
type SSHConfig struct {
	// User is the default login user.
	User string `yaml:"user,omitempty"`
	// Port is the default SSH port (22 when unset).
	Port int `yaml:"port,omitempty"`
	// IdentityFile is the default private key path.
	IdentityFile string `yaml:"identityFile,omitempty"`
	// KnownHostsFile is the known_hosts file for host key verification.
	KnownHostsFile string `yaml:"knownHostsFile,omitempty"`
}

// Role is a reusable bundle of compose and file templates applied to a host.
type Role struct {
	// Name is the role identifier referenced by targets.
	Name string `yaml:"name"`
	// Compose is the compose template path relative to the project root.
	Compose string `yaml:"compose"`
	// EnvTemplate is an optional .env template rendered next to the compose
	// file on the target host.
	EnvTemplate string `yaml:"envTemplate,omitempty"`
	// Files lists additional templates or static files shipped with the role.
	Files []FileRef `yaml:"files,omitempty"`
	// Defaults are the role's default variables (lowest precedence).
	Defaults vars.Vars `yaml:"defaults,omitempty"`
	// Requires lists variable keys that must be defined for targeted hosts.
	Requires []string `yaml:"requires,omitempty"`
	// RemoteDir overrides the bundle directory on the host
	// (default /opt/<project>/<role>).
	RemoteDir string `yaml:"remoteDir,omitempty"`
	// When is a template expression that enables this role.
	When string `yaml:"when,omitempty"`
	// Hooks contains role-specific hook steps.
	Hooks RoleHooks `yaml:"hooks,omitempty"`
}

// FileRef describes one file shipped with a role bundle.
type FileRef struct {
	// Src is the source path relative to the project root.
	Src string `yaml:"src"`
	// Dest is the path inside the bundle (defaults to the src base name).
	Dest string `yaml:"dest,omitempty"`
	// Template toggles template rendering; static files are copied verbatim.
	Template bool `yaml:"template,omitempty"`
	// Mode is an octal file mode string (e.g. "0600").
	Mode string `yaml:"mode,omitempty"`
}

// Target binds an inventory group to a list of roles.
type Target struct {
	// Group is the inventory group name (or "all").
	Group string `yaml:"group"`
	// Roles lists role names deployed on the group's hosts.
	Roles []string `yaml:"roles"`
	// When is a template expression that enables this target.
	When string `yaml:"when,omitempty"`
}

// GrafanaConfig describes the dashboard tool integration.
type GrafanaConfig struct {
	// URL is the Grafana base URL used by export and API provisioning.
	URL string `yaml:"url,omitempty"`
	// TokenVar names the variable holding an API token.
	TokenVar string `yaml:"tokenVar,omitempty"`
	// UsernameVar and PasswordVar name variables for basic auth.
	UsernameVar string `yaml:"usernameVar,omitempty"`
	PasswordVar string `yaml:"passwordVar,omitempty"`
	// Insecure disables TLS verification for API calls.
	Insecure bool `yaml:"insecure,omitempty"`
	// ExportDir is the default output directory for exported dashboards.
	ExportDir string `yaml:"exportDir,omitempty"`
	// Provisioning selects how dashboards, orgs and users are provisioned.
	Provisioning GrafanaProvisioning `yaml:"provisioning,omitempty"`
}

// GrafanaProvisioning selects one of the file, git or api provisioning modes.
type GrafanaProvisioning struct {
	// Mode is one of "file", "git" or "api".
	Mode string `yaml:"mode,omitempty"`
	// DashboardsDir is the local dashboards directory for the file provider
	// and the checkout target for git mode.
	DashboardsDir string `yaml:"dashboardsDir,omitempty"`
	// Git configures the dashboards repository for git mode.
	Git *GitSyncSpec `yaml:"git,omitempty"`
	// Orgs lists organizations ensured in api mode.
	Orgs []GrafanaOrg `yaml:"orgs,omitempty"`
}

// GitSyncSpec points at a git repository holding dashboard JSON files.
type GitSyncSpec struct {
	// Repo is the clone URL.
	Repo string `yaml:"repo"`
	// Ref is a branch, tag or revision to check out (default branch if empty).
	Ref string `yaml:"ref,omitempty"`
}

// GrafanaOrg describes an organization ensured via the HTTP API.
type GrafanaOrg struct {
	// Name is the organization name.
	Name string `yaml:"name"`
	// Users lists org members to ensure.
	Users []GrafanaUser `yaml:"users,omitempty"`
	// Datasources lists datasources to ensure within the org.
	Datasources []GrafanaDatasource `yaml:"datasources,omitempty"`
}

// GrafanaUser describes a user ensured via the admin API.
type GrafanaUser struct {
	// Login is the user login name.
	Login string `yaml:"login"`
	// Email is the user email (defaults to login when empty).
	Email string `yaml:"email,omitempty"`
	// Role is the org role: Viewer, Editor or Admin (default Viewer).
	Role string `yaml:"role,omitempty"`
	// PasswordVar names the variable holding the initial password.
	PasswordVar string `yaml:"passwordVar,omitempty"`
}

// GrafanaDatasource describes a datasource ensured within an org.
type GrafanaDatasource struct {
	// Name is the datasource name.
	Name string `yaml:"name"`
	// Type is the datasource type (e.g. "postgres", "prometheus").
	Type string `yaml:"type"`
	// URL is the datasource address.
	URL string `yaml:"url"`
	// Access is "proxy" or "direct" (default "proxy").
	Access string `yaml:"access,omitempty"`
	// IsDefault marks the org default datasource.
	IsDefault bool `yaml:"isDefault,omitempty"`
}

// HookSet describes global hooks executed around fleet operations.
type HookSet struct {
	// BeforeAll runs before any deploy/destroy operations.
	BeforeAll []HookStep `yaml:"beforeAll,omitempty"`
	// AfterAll runs after all deploy/destroy operations.
	AfterAll []HookStep `yaml:"afterAll,omitempty"`
}

// RoleHooks describes hooks bound to a particular role.
type RoleHooks struct {
	// BeforeDeploy runs before pushing and starting the role bundle.
	BeforeDeploy []HookStep `yaml:"beforeDeploy,omitempty"`
	// AfterDeploy runs after the role bundle is up.
	AfterDeploy []HookStep `yaml:"afterDeploy,omitempty"`
	// BeforeDestroy runs before taking the role bundle down.
	BeforeDestroy []HookStep `yaml:"beforeDestroy,omitempty"`
	// AfterDestroy runs after the role bundle is down.
	AfterDestroy []HookStep `yaml:"afterDestroy,omitempty"`
}

// HookStep describes a single hook execution step: a shell command template
// run either locally or on the target host.
type HookStep struct {
	// Name is the identifier used in logs.
	Name string `yaml:"name,omitempty"`
	// Run is a shell command template to execute.
	Run string `yaml:"run"`
	// Remote runs the command on the target host instead of locally.
	Remote bool `yaml:"remote,omitempty"`
	// When is a template expression that enables the hook.
	When string `yaml:"when,omitempty"`
	// ContinueOnError skips failures when set.
	ContinueOnError bool `yaml:"continueOnError,omitempty"`
	// Timeout is a duration string for the hook execution.
	Timeout string `yaml:"timeout,omitempty"`
}

// StateConfig describes where the local release log is stored.
type StateConfig struct {
	// Backend selects the state backend; only "file" is supported.
	Backend string `yaml:"backend,omitempty"`
	// Path is the release log path relative to the project root.
	Path string `yaml:"path,omitempty"`
}

// LoadOptions describes parameters that influence template rendering of
// fleet.yaml.
type LoadOptions struct {
	// UserVars are inline variables for template rendering.
	UserVars vars.Vars
	// VarFiles lists additional YAML var-files to load.
	VarFiles []string
}

// TemplateContext represents the data exposed to Go templates when rendering
// fleet.yaml, role templates and hook commands.
type TemplateContext struct {
	// Project is the project identifier.
	Project string
	// ProjectRoot is the path to the project root on disk.
	ProjectRoot string
	// Host is the current target hostname (empty outside host scope).
	Host string
	// Group is the inventory group the host was targeted through.
	Group string
	// Role is the current role name (empty outside role scope).
	Role string
	// RemoteDir is the bundle directory on the host (role scope only).
	RemoteDir string
	// Now is the timestamp captured for template rendering.
	Now time.Time
	// Vars holds the merged variables for the current scope.
	Vars vars.Vars
	// EnvMap merges OS env and envFiles for envOr lookups.
	EnvMap map[string]string
	// Versions contains version strings from fleet.yaml.
	Versions map[string]string
}

// rawHeader is a minimal struct used to extract top-level fields before
// templating.
type rawHeader struct {
	Project  string            `yaml:"project"`
	Requires string            `yaml:"requires"`
	EnvFiles []string          `yaml:"envFiles"`
	Versions map[string]string `yaml:"versions"`
}

// Load reads fleet.yaml, loads envFiles and user vars, renders the file as a
// template and parses it into FleetConfig, returning the base template context
// used for rendering.
func Load(path string, opts LoadOptions) (*FleetConfig, TemplateContext, error) {
	var zeroCtx TemplateContext

	if path == "" {
		return nil, zeroCtx, fmt.Errorf("config path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("resolve config path: %w", err)
	}
	rawBytes, err := os.ReadFile(absPath)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var header rawHeader
	if err := yaml.Unmarshal(rawBytes, &header); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse top-level config fields: %w", err)
	}
	if err := checkRequires(header.Requires); err != nil {
		return nil, zeroCtx, err
	}

	baseDir := filepath.Dir(absPath)

	envFileVars, err := vars.LoadEnvFiles(baseDir, header.EnvFiles)
	if err != nil {
		return nil, zeroCtx, err
	}

	varFileVars := make(vars.Vars)
	for _, vf := range opts.VarFiles {
		if strings.TrimSpace(vf) == "" {
			continue
		}
		fileVars, err := vars.LoadVarFile(vf)
		if err != nil {
			return nil, zeroCtx, fmt.Errorf("load var-file %q: %w", vf, err)
		}
		varFileVars = vars.Merge(varFileVars, fileVars)
	}

	envMap := vars.MergeFlat(vars.FromOS(), envFileVars)

	ctx := TemplateContext{
		Project:     header.Project,
		ProjectRoot: baseDir,
		Now:         time.Now().UTC(),
		Vars:        vars.Merge(vars.FromFlat(envFileVars), varFileVars, opts.UserVars),
		EnvMap:      envMap,
		Versions:    header.Versions,
	}

	rendered, err := RenderTemplate("fleet.yaml", rawBytes, ctx)
	if err != nil {
		return nil, zeroCtx, err
	}

	var cfg FleetConfig
	if err := yaml.Unmarshal(rendered, &cfg); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse rendered fleet.yaml: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, zeroCtx, err
	}

	ctx.Versions = cfg.Versions
	return &cfg, ctx, nil
}

func applyDefaults(cfg *FleetConfig) {
	if cfg.Inventory == "" {
		cfg.Inventory = "inventory"
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(".fleet", "state.json")
	}
}

func validate(cfg *FleetConfig) error {
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("fleet.yaml: project must be set")
	}
	seen := make(map[string]struct{}, len(cfg.Roles))
	for _, role := range cfg.Roles {
		if strings.TrimSpace(role.Name) == "" {
			return fmt.Errorf("fleet.yaml: role with empty name")
		}
		if _, dup := seen[role.Name]; dup {
			return fmt.Errorf("fleet.yaml: duplicate role %q", role.Name)
		}
		seen[role.Name] = struct{}{}
		if strings.TrimSpace(role.Compose) == "" {
			return fmt.Errorf("fleet.yaml: role %q has no compose template", role.Name)
		}
	}
	for _, target := range cfg.Targets {
		if strings.TrimSpace(target.Group) == "" {
			return fmt.Errorf("fleet.yaml: target with empty group")
		}
		for _, roleName := range target.Roles {
			if _, ok := seen[roleName]; !ok {
				return fmt.Errorf("fleet.yaml: target group %q references undefined role %q", target.Group, roleName)
			}
		}
	}
	if cfg.State.Backend != "" && cfg.State.Backend != "file" {
		return fmt.Errorf("fleet.yaml: unsupported state backend %q", cfg.State.Backend)
	}
	if g := cfg.Grafana; g != nil {
		switch g.Provisioning.Mode {
		case "", "file", "git", "api":
		default:
			return fmt.Errorf("fleet.yaml: unsupported grafana provisioning mode %q", g.Provisioning.Mode)
		}
	}
	return nil
}

// Role returns the named role definition.
func (c *FleetConfig) Role(name string) (Role, bool) {
	for _, role := range c.Roles {
		if role.Name == name {
			return role, true
		}
	}
	return Role{}, false
}

// checkRequires validates the running fleetctl version against the fleet.yaml
// requires constraint. Dev builds always pass.
func checkRequires(constraint string) error {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || buildinfo.IsDev() {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("parse requires constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(strings.TrimPrefix(buildinfo.Version, "v"))
	if err != nil {
		return fmt.Errorf("parse fleetctl version %q: %w", buildinfo.Version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("fleet.yaml requires fleetctl %s, running %s", constraint, buildinfo.Version)
	}
	return nil
}

// RenderTemplate renders arbitrary YAML or text content using the common
// template context and helpers.
func RenderTemplate(name string, raw []byte, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(ctx)).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// EvaluateWhen renders a when expression and interprets the result as a
// truthiness value: empty output and anything but "false"/"0"/"no" enables.
func EvaluateWhen(kind, expr string, ctx TemplateContext) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	rendered, err := RenderTemplate(kind+"-when", []byte(expr), ctx)
	if err != nil {
		return false, err
	}
	s := strings.ToLower(strings.TrimSpace(string(rendered)))
	if s == "false" || s == "0" || s == "no" {
		return false, nil
	}
	return true, nil
}

// buildFuncMap constructs the common set of template functions available in
// fleet.yaml, role templates and hook commands.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default":    funcDef,
		"toLower":    strings.ToLower,
		"slug":       funcSlug,
		"envOr":      funcEnvOr(ctx.EnvMap),
		"ternary":    funcTernary,
		"now":        func() time.Time { return ctx.Now },
		"join":       funcJoin,
		"trimPrefix": funcTrimPrefix,
		"var":        funcVar(ctx.Vars),
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcSlug normalizes a value into a lower-case dash-separated slug.
func funcSlug(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "_", "-")
	return v
}

// funcEnvOr returns a function that looks up a key in envMap with a fallback.
func funcEnvOr(envMap map[string]string) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

// funcVar returns a function that looks up a flattened variable key with a
// fallback, so templates can write {{ var "db.port" "5432" }}.
func funcVar(v vars.Vars) func(key, def string) string {
	flat := vars.Flatten(v)
	return func(key, def string) string {
		if val, ok := flat[key]; ok && val != "" {
			return val
		}
		return def
	}
}

// funcTernary returns a when cond is true, otherwise b.
func funcTernary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

// funcJoin joins a slice of strings with the given separator.
func funcJoin(values []string, sep string) string {
	return strings.Join(values, sep)
}

// funcTrimPrefix removes the prefix from value when present.
func funcTrimPrefix(value, prefix string) string {
	return strings.TrimPrefix(value, prefix)
}
