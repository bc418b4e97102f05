package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteBundles writes rendered bundles under outDir as
// <host>/<role>/<file>. Each host directory is staged in a temporary sibling
// and moved into place, so a failed render never leaves partial output behind.
func WriteBundles(outDir string, bundles []Bundle) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory %q: %w", outDir, err)
	}

	byHost := make(map[string][]Bundle)
	var hostOrder []string
	for _, b := range bundles {
		if _, ok := byHost[b.Host]; !ok {
			hostOrder = append(hostOrder, b.Host)
		}
		byHost[b.Host] = append(byHost[b.Host], b)
	}

	for _, host := range hostOrder {
		staging, err := os.MkdirTemp(outDir, "."+host+"-*")
		if err != nil {
			return fmt.Errorf("create staging directory for host %q: %w", host, err)
		}

		if err := writeHostBundles(staging, byHost[host]); err != nil {
			_ = os.RemoveAll(staging)
			return err
		}

		final := filepath.Join(outDir, host)
		if err := os.RemoveAll(final); err != nil {
			_ = os.RemoveAll(staging)
			return fmt.Errorf("clear previous output for host %q: %w", host, err)
		}
		if err := os.Rename(staging, final); err != nil {
			_ = os.RemoveAll(staging)
			return fmt.Errorf("move rendered bundles for host %q: %w", host, err)
		}
	}
	return nil
}

func writeHostBundles(dir string, bundles []Bundle) error {
	for _, b := range bundles {
		roleDir := filepath.Join(dir, b.Role)
		for _, file := range b.Files {
			target := filepath.Join(roleDir, file.Path)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create directory for %q: %w", target, err)
			}
			if err := os.WriteFile(target, file.Data, file.Mode); err != nil {
				return fmt.Errorf("write %q: %w", target, err)
			}
		}
	}
	return nil
}
