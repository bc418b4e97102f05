package cli

import (
	envparse "github.com/caarlos0/env/v11"

	"github.com/compose-fleet/fleetctl/internal/logging"
)

// baseEnv defines root CLI defaults sourced from FLEETCTL_* env vars.
type baseEnv struct {
	// ConfigPath is the fleet.yaml path from FLEETCTL_CONFIG.
	ConfigPath string `env:"FLEETCTL_CONFIG"`
	// Inventory is the inventory file override from FLEETCTL_INVENTORY.
	Inventory string `env:"FLEETCTL_INVENTORY"`
	// LogLevel is the logging level from FLEETCTL_LOG_LEVEL.
	LogLevel string `env:"FLEETCTL_LOG_LEVEL"`
}

// varsEnv describes inline vars and var files passed via env.
type varsEnv struct {
	// Vars is a k=v,k2=v2 list from FLEETCTL_VARS.
	Vars string `env:"FLEETCTL_VARS"`
	// VarFile is a YAML path from FLEETCTL_VAR_FILE.
	VarFile string `env:"FLEETCTL_VAR_FILE"`
	// PassphraseFile is the vault passphrase file from
	// FLEETCTL_PASSPHRASE_FILE.
	PassphraseFile string `env:"FLEETCTL_PASSPHRASE_FILE"`
}

// deployEnv captures FLEETCTL_* inputs for deploy/destroy runs.
type deployEnv struct {
	// Parallel bounds concurrent hosts from FLEETCTL_PARALLEL.
	Parallel int `env:"FLEETCTL_PARALLEL"`
	// FailFast aborts on first host failure from FLEETCTL_FAIL_FAST.
	FailFast bool `env:"FLEETCTL_FAIL_FAST"`
}

// applyBaseEnv fills root options from FLEETCTL_* env vars.
func applyBaseEnv(opts *Options) {
	var base baseEnv
	if err := envparse.Parse(&base); err != nil {
		return
	}
	if base.ConfigPath != "" {
		opts.ConfigPath = base.ConfigPath
	}
	if base.Inventory != "" {
		opts.InventoryPath = base.Inventory
	}
	if base.LogLevel != "" {
		opts.LogLevel = logging.ParseLevel(base.LogLevel)
	}
}

// parseEnv fills target from FLEETCTL_* env vars via caarlos0/env.
func parseEnv(target any) error {
	return envparse.Parse(target)
}
