package gitops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func initTestRepo(t *testing.T) (string, *Repo) {
	t.Helper()
	dir := t.TempDir()

	raw, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	wt, err := raw.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com"},
	})
	require.NoError(t, err)

	repo, err := Open(dir, "", zap.NewNop())
	require.NoError(t, err)
	return dir, repo
}

func TestOpenNonRepo(t *testing.T) {
	_, err := Open(t.TempDir(), "", zap.NewNop())
	require.Error(t, err)
}

func TestCurrentBranch(t *testing.T) {
	_, repo := initTestRepo(t)

	branch, err := repo.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestAcquireCreatesBranch(t *testing.T) {
	_, repo := initTestRepo(t)

	wt, err := repo.Acquire(context.Background(), "feat-issue-42-run-abc12345-widgets")
	require.NoError(t, err)
	assert.Equal(t, "feat-issue-42-run-abc12345-widgets", wt.Branch)

	branch, err := repo.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "feat-issue-42-run-abc12345-widgets", branch)
}

func TestAcquireIsIdempotent(t *testing.T) {
	_, repo := initTestRepo(t)

	_, err := repo.Acquire(context.Background(), "feat-x")
	require.NoError(t, err)

	// Acquiring a branch that already exists checks it out again.
	wt, err := repo.Acquire(context.Background(), "feat-x")
	require.NoError(t, err)
	assert.Equal(t, "feat-x", wt.Branch)
}

func TestCommitAllCleanTreeIsNoop(t *testing.T) {
	_, repo := initTestRepo(t)
	wt, err := repo.Acquire(context.Background(), "feat-x")
	require.NoError(t, err)

	hash, err := wt.CommitAll("nothing changed", "bot", "bot@example.com")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestCommitAllStagesEverything(t *testing.T) {
	dir, repo := initTestRepo(t)
	wt, err := repo.Acquire(context.Background(), "feat-x")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("edited\n"), 0o644))

	hash, err := wt.CommitAll("plan: add widget plan", "bot", "bot@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	second, err := wt.CommitAll("again", "bot", "bot@example.com")
	require.NoError(t, err)
	assert.Empty(t, second)
}
