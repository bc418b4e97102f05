package vars

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeNestedMaps(t *testing.T) {
	base := Vars{
		"app": map[string]any{
			"name": "fleet",
			"port": 8080,
		},
		"debug": false,
	}
	override := Vars{
		"app": map[string]any{
			"port": 9090,
		},
		"debug": true,
	}

	out := Merge(base, override)

	app, ok := out["app"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fleet", app["name"])
	assert.Equal(t, 9090, app["port"])
	assert.Equal(t, true, out["debug"])
}

func TestMergeReplacesLists(t *testing.T) {
	base := Vars{"ports": []any{80, 443}}
	override := Vars{"ports": []any{8080}}

	out := Merge(base, override)
	assert.Equal(t, []any{8080}, out["ports"])
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := Vars{"app": map[string]any{"name": "fleet"}}
	override := Vars{"app": map[string]any{"name": "other"}}

	_ = Merge(base, override)
	assert.Equal(t, "fleet", base["app"].(map[string]any)["name"])
}

func TestFlatten(t *testing.T) {
	v := Vars{
		"app": map[string]any{
			"db": map[string]any{"host": "db1"},
		},
		"port":  8080,
		"empty": nil,
	}

	flat := Flatten(v)
	assert.Equal(t, "db1", flat["app.db.host"])
	assert.Equal(t, "8080", flat["port"])
	assert.Equal(t, "", flat["empty"])
}

func TestParseInline(t *testing.T) {
	out, err := ParseInline("A=1, B=two ,C=")
	require.NoError(t, err)
	assert.Equal(t, "1", out["A"])
	assert.Equal(t, "two", out["B"])
	assert.Equal(t, "", out["C"])

	_, err = ParseInline("novalue")
	assert.Error(t, err)

	out, err = ParseInline("  ")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadVarFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: web\nport: 80\n"), 0o644))

	out, err := LoadVarFile(path)
	require.NoError(t, err)
	assert.Equal(t, "web", out["name"])
	assert.Equal(t, 80, out["port"])
}

func TestLoadVarFileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	out, err := LoadVarFile(path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.env"), []byte("A=1\nB=base\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.env"), []byte("B=override\n"), 0o644))

	out, err := LoadEnvFiles(dir, []string{"a.env", "b.env"})
	require.NoError(t, err)
	assert.Equal(t, "1", out["A"])
	assert.Equal(t, "override", out["B"])
}

func TestVarsStringAndInt(t *testing.T) {
	v := Vars{"s": "text", "n": 42, "f": 3.0, "raw": "17"}

	s, ok := v.String("s")
	require.True(t, ok)
	assert.Equal(t, "text", s)

	n, ok := v.Int("n")
	require.True(t, ok)
	assert.Equal(t, 42, n)

	f, ok := v.Int("f")
	require.True(t, ok)
	assert.Equal(t, 3, f)

	raw, ok := v.Int("raw")
	require.True(t, ok)
	assert.Equal(t, 17, raw)

	_, ok = v.String("missing")
	assert.False(t, ok)
}
