package grafana

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/compose-fleet/fleetctl/internal/config"
)

// WriteFileProvisioning writes Grafana file-provisioning manifests into
// outDir: a dashboards provider pointing at the container dashboards path and
// a datasources manifest built from the configured orgs. These files are
// shipped with the grafana role bundle, so the dashboard tool picks them up
// on start.
func WriteFileProvisioning(cfg config.GrafanaProvisioning, outDir string) error {
	if err := os.MkdirAll(filepath.Join(outDir, "dashboards"), 0o755); err != nil {
		return fmt.Errorf("create provisioning directory: %w", err)
	}

	provider := map[string]any{
		"apiVersion": 1,
		"providers": []map[string]any{{
			"name":                  "fleet-dashboards",
			"type":                  "file",
			"disableDeletion":       false,
			"updateIntervalSeconds": 30,
			"options": map[string]any{
				"path":                      "/etc/grafana/dashboards",
				"foldersFromFilesStructure": true,
			},
		}},
	}
	if err := writeYAML(filepath.Join(outDir, "dashboards", "provider.yaml"), provider); err != nil {
		return err
	}

	var sources []map[string]any
	for _, org := range cfg.Orgs {
		for _, ds := range org.Datasources {
			access := ds.Access
			if access == "" {
				access = "proxy"
			}
			sources = append(sources, map[string]any{
				"name":      ds.Name,
				"type":      ds.Type,
				"url":       ds.URL,
				"access":    access,
				"isDefault": ds.IsDefault,
			})
		}
	}
	if len(sources) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(outDir, "datasources"), 0o755); err != nil {
		return fmt.Errorf("create datasources directory: %w", err)
	}
	manifest := map[string]any{
		"apiVersion":  1,
		"datasources": sources,
	}
	return writeYAML(filepath.Join(outDir, "datasources", "datasources.yaml"), manifest)
}

func writeYAML(path string, doc any) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %q: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}
