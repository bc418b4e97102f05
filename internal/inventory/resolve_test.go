package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-fleet/fleetctl/internal/vars"
)

func writeVarFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveHostVarsPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeVarFile(t, dir, "group_vars/all.yaml", "layer: all\nonly_all: yes\n")
	writeVarFile(t, dir, "group_vars/production.yaml", "layer: production\nonly_prod: yes\n")
	writeVarFile(t, dir, "group_vars/web.yaml", "layer: web\nonly_web: yes\n")
	writeVarFile(t, dir, "host_vars/web1.yaml", "layer: host_file\nonly_host: yes\n")

	in := `
[web]
web1 layer=inline

[production:children]
web
`
	inv, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	host, _ := inv.Host("web1")

	resolved, err := inv.ResolveHostVars(host, VarSources{
		Dir:      dir,
		Defaults: vars.Vars{"layer": "defaults", "only_default": true},
	})
	require.NoError(t, err)

	// host_vars file beats inline, inline beats direct group, direct group
	// beats parent group, parent beats all, all beats role defaults.
	assert.Equal(t, "host_file", resolved["layer"])
	assert.Equal(t, true, resolved["only_default"])
	assert.Equal(t, "yes", resolved["only_all"])
	assert.Equal(t, "yes", resolved["only_prod"])
	assert.Equal(t, "yes", resolved["only_web"])
	assert.Equal(t, "yes", resolved["only_host"])
}

func TestResolveHostVarsGroupOrder(t *testing.T) {
	dir := t.TempDir()
	writeVarFile(t, dir, "group_vars/production.yaml", "layer: production\n")
	writeVarFile(t, dir, "group_vars/web.yaml", "layer: web\n")

	in := `
[web]
web1

[production:children]
web
`
	inv, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	host, _ := inv.Host("web1")

	resolved, err := inv.ResolveHostVars(host, VarSources{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "web", resolved["layer"])
}

func TestResolveHostVarsVaultAndExtraWin(t *testing.T) {
	dir := t.TempDir()
	writeVarFile(t, dir, "host_vars/web1.yaml", "secret: from_file\ndebug: false\n")

	inv, err := Parse(strings.NewReader("[web]\nweb1\n"))
	require.NoError(t, err)
	host, _ := inv.Host("web1")

	resolved, err := inv.ResolveHostVars(host, VarSources{
		Dir:       dir,
		VaultVars: vars.Vars{"secret": "from_vault"},
		ExtraVars: vars.Vars{"debug": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "from_vault", resolved["secret"])
	assert.Equal(t, true, resolved["debug"])
}

func TestResolveHostVarsMissingFilesTolerated(t *testing.T) {
	inv, err := Parse(strings.NewReader("[web]\nweb1 role=app\n"))
	require.NoError(t, err)
	host, _ := inv.Host("web1")

	resolved, err := inv.ResolveHostVars(host, VarSources{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "app", resolved["role"])
}

func TestVarFileHosts(t *testing.T) {
	dir := t.TempDir()
	writeVarFile(t, dir, "host_vars/web1.yaml", "a: 1\n")
	writeVarFile(t, dir, "host_vars/db1.yml", "b: 2\n")
	writeVarFile(t, dir, "host_vars/notes.txt", "ignored")

	names, err := VarFileHosts(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web1", "db1"}, names)

	empty, err := VarFileHosts(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
