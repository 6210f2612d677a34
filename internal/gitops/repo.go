// Package gitops performs the local git operations the workflow needs:
// acquiring run branches, committing phase output, and pushing to the
// remote.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/config"
)

const remoteName = "origin"

// Repo wraps a local working copy. All branch and commit operations go
// through an explicit Worktree handle acquired from it.
type Repo struct {
	repo   *git.Repository
	path   string
	token  config.Secret
	logger *zap.Logger
}

// Worktree is a checked-out working tree positioned on a specific branch.
type Worktree struct {
	repo   *Repo
	wt     *git.Worktree
	Branch string
}

// Open opens the repository at path.
func Open(path string, token config.Secret, logger *zap.Logger) (*Repo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	return &Repo{repo: repo, path: path, token: token, logger: logger}, nil
}

// Path returns the working copy root.
func (r *Repo) Path() string { return r.path }

// CurrentBranch returns the branch HEAD points at, or an error when HEAD
// is detached.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", head.Hash())
	}
	return head.Name().Short(), nil
}

// Acquire checks out the named branch and returns a handle on it. If the
// branch exists locally it is checked out; if it only exists on the remote
// a local branch is created tracking it; otherwise a new branch is created
// from the current HEAD.
func (r *Repo) Acquire(ctx context.Context, branch string) (*Worktree, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if _, err := r.repo.Reference(local, true); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local}); err != nil {
			return nil, fmt.Errorf("checking out %s: %w", branch, err)
		}
		r.logger.Debug("checked out existing branch", zap.String("branch", branch))
		return &Worktree{repo: r, wt: wt, Branch: branch}, nil
	}

	// Try a remote-tracking ref before creating a fresh branch, so a rerun
	// on another machine picks up earlier work.
	if err := r.fetch(ctx); err != nil {
		r.logger.Debug("fetch failed, continuing with local refs", zap.Error(err))
	}
	remote := plumbing.NewRemoteReferenceName(remoteName, branch)
	if ref, err := r.repo.Reference(remote, true); err == nil {
		err := wt.Checkout(&git.CheckoutOptions{
			Branch: local,
			Hash:   ref.Hash(),
			Create: true,
		})
		if err != nil {
			return nil, fmt.Errorf("checking out remote branch %s: %w", branch, err)
		}
		r.logger.Info("checked out branch from remote", zap.String("branch", branch))
		return &Worktree{repo: r, wt: wt, Branch: branch}, nil
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Create: true}); err != nil {
		return nil, fmt.Errorf("creating branch %s: %w", branch, err)
	}
	r.logger.Info("created branch", zap.String("branch", branch))
	return &Worktree{repo: r, wt: wt, Branch: branch}, nil
}

func (r *Repo) fetch(ctx context.Context) error {
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       r.auth(),
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec("+refs/heads/*:refs/remotes/" + remoteName + "/*"),
		},
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

func (r *Repo) auth() *githttp.BasicAuth {
	if !r.token.IsSet() {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: r.token.Value()}
}

// CommitAll stages everything and commits with the given message. A clean
// tree is a no-op that returns an empty hash, not an error, so phases can
// commit unconditionally.
func (w *Worktree) CommitAll(message, authorName, authorEmail string) (string, error) {
	status, err := w.wt.Status()
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}
	if status.IsClean() {
		w.repo.logger.Debug("nothing to commit", zap.String("branch", w.Branch))
		return "", nil
	}

	if err := w.wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}

	hash, err := w.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing on %s: %w", w.Branch, err)
	}
	w.repo.logger.Info("committed changes",
		zap.String("branch", w.Branch),
		zap.String("hash", hash.String()[:8]),
	)
	return hash.String(), nil
}

// Push publishes the worktree's branch to the remote.
func (w *Worktree) Push(ctx context.Context) error {
	refspec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", w.Branch, w.Branch))
	err := w.repo.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       w.repo.auth(),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pushing %s: %w", w.Branch, err)
	}
	w.repo.logger.Info("pushed branch", zap.String("branch", w.Branch))
	return nil
}
