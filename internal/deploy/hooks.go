package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/logging"
	"github.com/compose-fleet/fleetctl/internal/sshexec"
)

const defaultHookTimeout = 5 * time.Minute

// runHooks executes hook steps in order. Each step's Run command is rendered
// with the bundle's template context and executed locally, or on the target
// host when Remote is set. A nil client disables remote steps.
func (d *Deployer) runHooks(ctx context.Context, client *sshexec.Client, steps []config.HookStep, tctx config.TemplateContext) error {
	for _, step := range steps {
		if err := d.runHookStep(ctx, client, step, tctx); err != nil {
			if step.ContinueOnError {
				d.logger.Warn("hook failed, continuing", "hook", hookName(step), "error", err)
				continue
			}
			return fmt.Errorf("hook %q: %w", hookName(step), err)
		}
	}
	return nil
}

func (d *Deployer) runHookStep(ctx context.Context, client *sshexec.Client, step config.HookStep, tctx config.TemplateContext) error {
	if strings.TrimSpace(step.Run) == "" {
		return fmt.Errorf("hook has no run command")
	}

	enabled, err := config.EvaluateWhen("hook", step.When, tctx)
	if err != nil {
		return err
	}
	if !enabled {
		d.logger.Debug("hook skipped by when expression", "hook", hookName(step))
		return nil
	}

	rendered, err := config.RenderTemplate("hook", []byte(step.Run), tctx)
	if err != nil {
		return err
	}
	command := strings.TrimSpace(string(rendered))

	timeout := defaultHookTimeout
	if step.Timeout != "" {
		parsed, err := time.ParseDuration(step.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", step.Timeout, err)
		}
		timeout = parsed
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := logging.NewHostWriter(d.logger, tctx.Host)
	if step.Remote {
		if client == nil {
			return fmt.Errorf("remote hook without an ssh connection")
		}
		d.logger.Info("running remote hook", "hook", hookName(step), "host", tctx.Host)
		return client.Run(hctx, command, out, out)
	}

	d.logger.Info("running local hook", "hook", hookName(step))
	cmd := exec.CommandContext(hctx, "sh", "-c", command)
	cmd.Stdout = logging.NewWriter(d.logger)
	cmd.Stderr = logging.NewWriter(d.logger)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("local command failed: %w", err)
	}
	return nil
}

// shellQuote single-quotes a remote path for interpolation into compose
// commands.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func hookName(step config.HookStep) string {
	if step.Name != "" {
		return step.Name
	}
	name := strings.TrimSpace(step.Run)
	if len(name) > 40 {
		name = name[:40] + "…"
	}
	return name
}
