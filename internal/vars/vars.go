// Package vars contains the variable model shared by inventory, templates and
// the vault: loading from YAML and .env sources and merging by precedence.
package vars

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Vars represents a scoped set of configuration values. Values may be nested
// maps when loaded from YAML variable files.
type Vars map[string]any

// Merge merges several Vars sets into one, later sets overriding earlier keys.
// Nested maps are merged recursively; scalars and lists are replaced whole.
func Merge(sets ...Vars) Vars {
	out := make(Vars)
	for _, s := range sets {
		mergeInto(out, s)
	}
	return out
}

func mergeInto(dst Vars, src Vars) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			existing = make(map[string]any)
		}
		merged := Merge(Vars(existing), Vars(sub))
		dst[k] = map[string]any(merged)
	}
}

// Flatten converts nested Vars into a flat string map with dot-joined keys,
// suitable for template lookups and required-variable checks.
func Flatten(v Vars) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", v)
	return out
}

func flattenInto(out map[string]string, prefix string, v Vars) {
	for k, val := range v {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flattenInto(out, key, Vars(sub))
			continue
		}
		if val == nil {
			out[key] = ""
			continue
		}
		out[key] = fmt.Sprintf("%v", val)
	}
}

// Keys returns the sorted top-level keys of v.
func Keys(v Vars) []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FromOS builds a flat string map from the current process environment.
func FromOS() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// MergeFlat merges flat string maps, later maps overriding earlier keys.
func MergeFlat(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// LoadEnvFile loads a single .env-style file into a flat string map.
func LoadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return godotenv.Parse(f)
}

// LoadEnvFiles loads multiple .env-style files relative to baseDir and merges
// them in order.
func LoadEnvFiles(baseDir string, files []string) (map[string]string, error) {
	result := make(map[string]string)
	for _, name := range files {
		if strings.TrimSpace(name) == "" {
			continue
		}
		path := resolvePath(baseDir, name)
		envMap, err := LoadEnvFile(path)
		if err != nil {
			return nil, fmt.Errorf("load env file %q: %w", path, err)
		}
		result = MergeFlat(result, envMap)
	}
	return result, nil
}

// LoadVarFile parses a YAML variable file into Vars. An empty file yields an
// empty set.
func LoadVarFile(path string) (Vars, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseVarData(raw, path)
}

// ParseVarData parses YAML variable content into Vars. The name is used only
// for error reporting.
func ParseVarData(raw []byte, name string) (Vars, error) {
	var out Vars
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse variable file %q: %w", name, err)
	}
	if out == nil {
		out = make(Vars)
	}
	return out, nil
}

// ParseInline parses a comma-separated k=v list (e.g. "A=1,B=2") into Vars.
func ParseInline(s string) (Vars, error) {
	out := make(Vars)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid inline var %q, expected key=value", part)
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			return nil, fmt.Errorf("empty key in inline var %q", part)
		}
		out[key] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

// FromFlat lifts a flat string map into Vars without nesting.
func FromFlat(m map[string]string) Vars {
	out := make(Vars, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String fetches a string value for key, with ok reporting presence. Non-string
// scalars are formatted.
func (v Vars) String(key string) (string, bool) {
	val, ok := v[key]
	if !ok || val == nil {
		return "", false
	}
	if s, ok := val.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", val), true
}

// Int fetches an integer value for key when present and parseable.
func (v Vars) Int(key string) (int, bool) {
	val, ok := v[key]
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &parsed); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func resolvePath(baseDir, name string) string {
	if filepath.IsAbs(name) || baseDir == "" {
		return name
	}
	return filepath.Join(baseDir, name)
}
