// Package deploy pushes rendered bundles to hosts and drives docker compose
// over SSH.
package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/engine"
	"github.com/compose-fleet/fleetctl/internal/logging"
	"github.com/compose-fleet/fleetctl/internal/sshexec"
	"github.com/compose-fleet/fleetctl/internal/state"
)

// DialFunc opens an SSH connection for the named inventory host.
type DialFunc func(ctx context.Context, host string) (*sshexec.Client, error)

// Options configures a deploy run.
type Options struct {
	// Parallel bounds the number of hosts worked on concurrently (4 when
	// zero or negative).
	Parallel int
	// FailFast aborts remaining hosts after the first failure instead of
	// collecting per-host errors.
	FailFast bool
	// DryRun logs what would happen without touching any host.
	DryRun bool
}

// Deployer applies rendered bundles to their hosts. Hosts run in parallel;
// roles on one host run sequentially in target order.
type Deployer struct {
	logger *slog.Logger
	dial   DialFunc
	store  *state.Store
	ctx    config.TemplateContext
}

// NewDeployer constructs a Deployer. The store may be nil to skip release
// logging (dry runs, status).
func NewDeployer(logger *slog.Logger, dial DialFunc, store *state.Store, tctx config.TemplateContext) *Deployer {
	return &Deployer{logger: logger, dial: dial, store: store, ctx: tctx}
}

// RunGlobalHooks runs fleet-level hook steps locally, outside any host scope.
func (d *Deployer) RunGlobalHooks(ctx context.Context, steps []config.HookStep) error {
	return d.runHooks(ctx, nil, steps, d.ctx)
}

// Deploy pushes every bundle and brings its compose stack up.
func (d *Deployer) Deploy(ctx context.Context, bundles []engine.Bundle, opts Options) error {
	return d.forEachHost(ctx, bundles, opts, d.deployHost)
}

// Destroy takes the compose stacks of every bundle down.
func (d *Deployer) Destroy(ctx context.Context, bundles []engine.Bundle, opts Options) error {
	return d.forEachHost(ctx, bundles, opts, d.destroyHost)
}

// Status prints compose service status for every bundle host.
func (d *Deployer) Status(ctx context.Context, bundles []engine.Bundle, opts Options) error {
	// Sequential so output stays readable per host.
	opts.Parallel = 1
	return d.forEachHost(ctx, bundles, opts, d.statusHost)
}

type hostFunc func(ctx context.Context, host string, bundles []engine.Bundle, opts Options) error

func (d *Deployer) forEachHost(ctx context.Context, bundles []engine.Bundle, opts Options, fn hostFunc) error {
	byHost := make(map[string][]engine.Bundle)
	var hosts []string
	for _, b := range bundles {
		if _, ok := byHost[b.Host]; !ok {
			hosts = append(hosts, b.Host)
		}
		byHost[b.Host] = append(byHost[b.Host], b)
	}

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 4
	}

	gctx := ctx
	var g *errgroup.Group
	if opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(parallel)

	errs := make([]error, len(hosts))
	for i, host := range hosts {
		g.Go(func() error {
			if err := fn(gctx, host, byHost[host], opts); err != nil {
				if opts.FailFast {
					return fmt.Errorf("host %q: %w", host, err)
				}
				errs[i] = fmt.Errorf("host %q: %w", host, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (d *Deployer) deployHost(ctx context.Context, host string, bundles []engine.Bundle, opts Options) error {
	if opts.DryRun {
		for _, b := range bundles {
			d.logger.Info("would deploy", "host", host, "role", b.Role, "dir", b.RemoteDir, "files", len(b.Files))
		}
		return nil
	}

	client, err := d.dial(ctx, host)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	for _, b := range bundles {
		tctx := d.bundleContext(b)

		if err := d.runHooks(ctx, client, b.Hooks.BeforeDeploy, tctx); err != nil {
			return fmt.Errorf("role %q before-deploy hooks: %w", b.Role, err)
		}

		d.logger.Info("deploying role", "host", host, "role", b.Role, "dir", b.RemoteDir)
		for _, file := range b.Files {
			remote := path.Join(b.RemoteDir, file.Path)
			if err := client.Push(ctx, file.Data, remote, file.Mode); err != nil {
				return fmt.Errorf("role %q: %w", b.Role, err)
			}
		}

		out := logging.NewHostWriter(d.logger, host)
		up := fmt.Sprintf("cd %s && docker compose up -d --remove-orphans", shellQuote(b.RemoteDir))
		if err := client.Run(ctx, up, out, out); err != nil {
			return fmt.Errorf("role %q: compose up: %w", b.Role, err)
		}

		if err := d.runHooks(ctx, client, b.Hooks.AfterDeploy, tctx); err != nil {
			return fmt.Errorf("role %q after-deploy hooks: %w", b.Role, err)
		}

		if d.store != nil {
			rec := state.Record{Host: host, Role: b.Role, Digest: bundleDigest(b)}
			if err := d.store.Append(rec); err != nil {
				return fmt.Errorf("record release of role %q: %w", b.Role, err)
			}
		}
	}
	return nil
}

func (d *Deployer) destroyHost(ctx context.Context, host string, bundles []engine.Bundle, opts Options) error {
	if opts.DryRun {
		for _, b := range bundles {
			d.logger.Info("would destroy", "host", host, "role", b.Role, "dir", b.RemoteDir)
		}
		return nil
	}

	client, err := d.dial(ctx, host)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	out := logging.NewHostWriter(d.logger, host)
	for _, b := range bundles {
		tctx := d.bundleContext(b)

		if err := d.runHooks(ctx, client, b.Hooks.BeforeDestroy, tctx); err != nil {
			return fmt.Errorf("role %q before-destroy hooks: %w", b.Role, err)
		}

		d.logger.Info("destroying role", "host", host, "role", b.Role)
		down := fmt.Sprintf("cd %s && docker compose down --remove-orphans", shellQuote(b.RemoteDir))
		if err := client.Run(ctx, down, out, out); err != nil {
			return fmt.Errorf("role %q: compose down: %w", b.Role, err)
		}

		if err := d.runHooks(ctx, client, b.Hooks.AfterDestroy, tctx); err != nil {
			return fmt.Errorf("role %q after-destroy hooks: %w", b.Role, err)
		}
	}
	return nil
}

func (d *Deployer) statusHost(ctx context.Context, host string, bundles []engine.Bundle, _ Options) error {
	client, err := d.dial(ctx, host)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	out := logging.NewHostWriter(d.logger, host)
	for _, b := range bundles {
		d.logger.Info("role status", "host", host, "role", b.Role)
		ps := fmt.Sprintf("cd %s && docker compose ps", shellQuote(b.RemoteDir))
		if err := client.Run(ctx, ps, out, out); err != nil {
			return fmt.Errorf("role %q: compose ps: %w", b.Role, err)
		}
	}
	return nil
}

func (d *Deployer) bundleContext(b engine.Bundle) config.TemplateContext {
	tctx := d.ctx
	tctx.Host = b.Host
	tctx.Group = b.Group
	tctx.Role = b.Role
	tctx.RemoteDir = b.RemoteDir
	tctx.Vars = b.Vars
	return tctx
}

// bundleDigest hashes the rendered bundle contents in path order, so the
// release log can show when a redeploy changed nothing.
func bundleDigest(b engine.Bundle) string {
	files := append([]engine.BundleFile(nil), b.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s\n", f.Path)
		h.Write(f.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
