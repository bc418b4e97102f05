package inventory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/compose-fleet/fleetctl/internal/vars"
)

// VarSources describes the variable layers merged for a host, from lowest to
// highest precedence. Vault variables are only present when the caller has
// explicitly loaded the vault files named in fleet.yaml.
type VarSources struct {
	// Dir is the repository root containing group_vars/ and host_vars/.
	Dir string
	// Defaults are role-level default values (lowest precedence).
	Defaults vars.Vars
	// VaultVars are decrypted vaulted variables.
	VaultVars vars.Vars
	// ExtraVars are env-file, var-file and inline variables (highest).
	ExtraVars vars.Vars
}

// ResolveHostVars merges all variable scopes for the given host.
//
// Precedence, lowest to highest: role defaults, group_vars/all, group_vars of
// each group the host belongs to (broad groups before specific ones), inline
// inventory host vars, host_vars/<host>, vault variables, extra variables.
func (inv *Inventory) ResolveHostVars(host *Host, src VarSources) (vars.Vars, error) {
	if host == nil {
		return nil, fmt.Errorf("host is nil")
	}

	layers := []vars.Vars{src.Defaults}

	allVars, err := loadScopeFile(filepath.Join(src.Dir, "group_vars", GroupAll))
	if err != nil {
		return nil, err
	}
	layers = append(layers, allVars)

	for _, group := range inv.GroupsOfHost(host.Name) {
		groupVars, err := loadScopeFile(filepath.Join(src.Dir, "group_vars", group))
		if err != nil {
			return nil, err
		}
		layers = append(layers, groupVars)
	}

	layers = append(layers, host.Vars)

	hostVars, err := loadScopeFile(filepath.Join(src.Dir, "host_vars", host.Name))
	if err != nil {
		return nil, err
	}
	layers = append(layers, hostVars, src.VaultVars, src.ExtraVars)

	return vars.Merge(layers...), nil
}

// loadScopeFile loads <base>.yaml or <base>.yml, returning an empty set when
// neither exists.
func loadScopeFile(base string) (vars.Vars, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := base + ext
		v, err := vars.LoadVarFile(path)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return nil, err
	}
	return make(vars.Vars), nil
}

// VarFileHosts lists the host names for which a host_vars file exists under
// dir, used by the check command to compare against inventory hostnames.
func VarFileHosts(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "host_vars"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read host_vars dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		out = append(out, name[:len(name)-len(ext)])
	}
	return out, nil
}
