package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/inventory"
	"github.com/compose-fleet/fleetctl/internal/vars"
)

const webCompose = `services:
  web:
    image: nginx:{{ var "web_tag" "latest" }}
    ports:
      - "{{ var "web_port" "80" }}:80"
`

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testProject(t *testing.T) (string, *config.FleetConfig, config.TemplateContext, *inventory.Inventory) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "roles/web/compose.yaml", webCompose)

	cfg := &config.FleetConfig{
		Project: "shop",
		Roles: []config.Role{{
			Name:    "web",
			Compose: "roles/web/compose.yaml",
		}},
		Targets: []config.Target{{Group: "web", Roles: []string{"web"}}},
	}
	base := config.TemplateContext{Project: "shop", ProjectRoot: dir}

	inv, err := inventory.Parse(strings.NewReader("[web]\nweb1\nweb2\n"))
	require.NoError(t, err)

	return dir, cfg, base, inv
}

func staticResolver(v vars.Vars) VarResolver {
	return func(host *inventory.Host, role config.Role) (vars.Vars, error) {
		return vars.Merge(role.Defaults, v, host.Vars), nil
	}
}

func TestRenderAll(t *testing.T) {
	_, cfg, base, inv := testProject(t)

	bundles, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(vars.Vars{"web_tag": "1.2"}))
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	b := bundles[0]
	assert.Equal(t, "web1", b.Host)
	assert.Equal(t, "web", b.Role)
	assert.Equal(t, "/opt/shop/web", b.RemoteDir)
	require.Len(t, b.Files, 1)
	assert.Equal(t, ComposeFileName, b.Files[0].Path)
	assert.Contains(t, string(b.Files[0].Data), "nginx:1.2")
	assert.Contains(t, string(b.Files[0].Data), `"80:80"`)
}

func TestRenderAllHostAndRoleFilters(t *testing.T) {
	_, cfg, base, inv := testProject(t)
	eng := NewEngine()

	bundles, err := eng.RenderAll(cfg, inv, base, RenderOptions{
		OnlyHosts: map[string]struct{}{"web2": {}},
	}, staticResolver(nil))
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "web2", bundles[0].Host)

	bundles, err = eng.RenderAll(cfg, inv, base, RenderOptions{
		SkipRoles: map[string]struct{}{"web": {}},
	}, staticResolver(nil))
	require.NoError(t, err)
	assert.Empty(t, bundles)

	bundles, err = eng.RenderAll(cfg, inv, base, RenderOptions{Group: "other"}, staticResolver(nil))
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestRenderAllWhenDisablesRole(t *testing.T) {
	_, cfg, base, inv := testProject(t)
	cfg.Roles[0].When = `{{ var "web_enabled" "true" }}`

	bundles, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(vars.Vars{"web_enabled": "false"}))
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestRenderAllRequiredVarsMissing(t *testing.T) {
	_, cfg, base, inv := testProject(t)
	cfg.Roles[0].Requires = []string{"db.password"}

	_, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required variables")
	assert.Contains(t, err.Error(), "db.password")
}

func TestRenderAllDeduplicatesHostRolePairs(t *testing.T) {
	_, cfg, base, inv := testProject(t)
	cfg.Targets = append(cfg.Targets, config.Target{Group: "web", Roles: []string{"web"}})

	bundles, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(nil))
	require.NoError(t, err)
	assert.Len(t, bundles, 2)
}

func TestRenderRoleEnvTemplateAndFiles(t *testing.T) {
	dir, cfg, base, inv := testProject(t)
	writeFile(t, dir, "roles/web/env.tmpl", "PORT={{ var \"web_port\" \"80\" }}\n")
	writeFile(t, dir, "roles/web/nginx.conf", "worker_processes auto;\n")
	cfg.Roles[0].EnvTemplate = "roles/web/env.tmpl"
	cfg.Roles[0].Files = []config.FileRef{{Src: "roles/web/nginx.conf", Dest: "conf/nginx.conf", Mode: "0600"}}

	bundles, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{
		OnlyHosts: map[string]struct{}{"web1": {}},
	}, staticResolver(vars.Vars{"web_port": "8080"}))
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	files := bundles[0].Files
	require.Len(t, files, 3)
	assert.Equal(t, EnvFileName, files[1].Path)
	assert.Equal(t, "PORT=8080\n", string(files[1].Data))
	assert.Equal(t, os.FileMode(0o600), files[1].Mode)
	assert.Equal(t, "conf/nginx.conf", files[2].Path)
	assert.Equal(t, os.FileMode(0o600), files[2].Mode)
}

func TestRenderRoleRejectsEscapingDest(t *testing.T) {
	dir, cfg, base, inv := testProject(t)
	writeFile(t, dir, "roles/web/evil.txt", "x")
	cfg.Roles[0].Files = []config.FileRef{{Src: "roles/web/evil.txt", Dest: "../outside.txt"}}

	_, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relative path inside the bundle")
}

func TestRenderRoleRejectsComposeWithoutServices(t *testing.T) {
	dir, cfg, base, inv := testProject(t)
	writeFile(t, dir, "roles/web/compose.yaml", "volumes:\n  data: {}\n")

	_, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no services section")
}

func TestRenderRoleCustomRemoteDir(t *testing.T) {
	_, cfg, base, inv := testProject(t)
	cfg.Roles[0].RemoteDir = "/srv/web"

	bundles, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(nil))
	require.NoError(t, err)
	assert.Equal(t, "/srv/web", bundles[0].RemoteDir)
}

func TestPlanAllSkipsRendering(t *testing.T) {
	dir, cfg, base, inv := testProject(t)
	// Broken template on disk must not matter for planning.
	writeFile(t, dir, "roles/web/compose.yaml", "{{ bad")

	bundles, err := NewEngine().PlanAll(cfg, inv, base, RenderOptions{}, staticResolver(nil))
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	assert.Empty(t, bundles[0].Files)
	assert.Equal(t, "/opt/shop/web", bundles[0].RemoteDir)
}

func TestWriteBundles(t *testing.T) {
	_, cfg, base, inv := testProject(t)
	bundles, err := NewEngine().RenderAll(cfg, inv, base, RenderOptions{}, staticResolver(nil))
	require.NoError(t, err)

	outDir := filepath.Join(t.TempDir(), "rendered")
	require.NoError(t, WriteBundles(outDir, bundles))

	data, err := os.ReadFile(filepath.Join(outDir, "web1", "web", ComposeFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nginx:latest")
	assert.FileExists(t, filepath.Join(outDir, "web2", "web", ComposeFileName))

	// A second write replaces the previous host output.
	require.NoError(t, WriteBundles(outDir, bundles))
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
