// Package gitsync keeps a local checkout of the dashboards repository in sync
// for git-mode Grafana provisioning.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Sync clones repoURL into dir, or fetches when the checkout already exists,
// and checks out ref. An empty ref stays on the remote default branch.
func Sync(ctx context.Context, logger *slog.Logger, repoURL, ref, dir string) error {
	if repoURL == "" {
		return fmt.Errorf("dashboards repository url is empty")
	}
	if dir == "" {
		return fmt.Errorf("checkout directory is empty")
	}

	repo, err := open(ctx, logger, repoURL, dir)
	if err != nil {
		return err
	}

	if ref == "" {
		return nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		// Branches that only exist on the remote resolve via origin/<ref>.
		hash, err = repo.ResolveRevision(plumbing.Revision("origin/" + ref))
		if err != nil {
			return fmt.Errorf("resolve ref %q in %q: %w", ref, repoURL, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree in %q: %w", dir, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checkout %q (%s): %w", ref, hash, err)
	}

	logger.Info("dashboards checkout synced", "repo", repoURL, "ref", ref, "dir", dir)
	return nil
}

func open(ctx context.Context, logger *slog.Logger, repoURL, dir string) (*git.Repository, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		repo, err := git.PlainOpen(dir)
		if err != nil {
			return nil, fmt.Errorf("open checkout %q: %w", dir, err)
		}
		err = repo.FetchContext(ctx, &git.FetchOptions{Force: true, Tags: git.AllTags})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("fetch %q: %w", repoURL, err)
		}
		return repo, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat checkout %q: %w", dir, err)
	}

	logger.Info("cloning dashboards repository", "repo", repoURL, "dir", dir)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: repoURL, Tags: git.AllTags})
	if err != nil {
		return nil, fmt.Errorf("clone %q: %w", repoURL, err)
	}
	return repo, nil
}
