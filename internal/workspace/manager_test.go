package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/pkg/cerr"
	"github.com/taskdock/taskdock/pkg/storage"
)

func gitOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	run("add", ".")
	run("commit", "-m", "initial commit")
	return dir
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return NewManager(NewYAMLRepository(store), nil)
}

func TestAcquireCreatesWorktree(t *testing.T) {
	gitOrSkip(t)
	ctx := context.Background()
	repo := initRepo(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(ctx, "01ABC", repo)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "task-01abc", record.BranchName)
	require.DirExists(t, record.WorktreePath)

	// Second acquire reuses the same workspace.
	again, err := mgr.Acquire(ctx, "01ABC", repo)
	require.NoError(t, err)
	require.Equal(t, record.WorktreePath, again.WorktreePath)
}

func TestAcquireNonGitProject(t *testing.T) {
	gitOrSkip(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(context.Background(), "01ABC", t.TempDir())
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestDiffWithoutWorktree(t *testing.T) {
	mgr := newTestManager(t)

	diff, err := mgr.Diff(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, diff.HasWorktree)
}

func TestDiffReportsChanges(t *testing.T) {
	gitOrSkip(t)
	ctx := context.Background()
	repo := initRepo(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(ctx, "01DEF", repo)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(record.WorktreePath, "README.md"), []byte("changed\n"), 0644))

	diff, err := mgr.Diff(ctx, "01DEF")
	require.NoError(t, err)
	require.True(t, diff.HasWorktree)
	require.Contains(t, diff.Stat, "README.md")
	require.Contains(t, diff.Patch, "+changed")
}

func TestDiffIncludesBranchCommits(t *testing.T) {
	gitOrSkip(t)
	ctx := context.Background()
	repo := initRepo(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(ctx, "01STU", repo)
	require.NoError(t, err)

	// Commit on the task branch, then leave a second change uncommitted.
	// Both must show against the base.
	require.NoError(t, os.WriteFile(filepath.Join(record.WorktreePath, "feature.go"), []byte("package feature\n"), 0644))
	for _, args := range [][]string{
		{"add", "."},
		{"commit", "-m", "add feature"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = record.WorktreePath
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	require.NoError(t, os.WriteFile(filepath.Join(record.WorktreePath, "README.md"), []byte("wip\n"), 0644))

	diff, err := mgr.Diff(ctx, "01STU")
	require.NoError(t, err)
	require.True(t, diff.HasWorktree)
	require.Equal(t, record.BranchName, diff.Branch)
	require.Contains(t, diff.Stat, "feature.go")
	require.Contains(t, diff.Patch, "+package feature")
	require.Contains(t, diff.Patch, "+wip")
}

func TestMergeCleanRemovesWorktree(t *testing.T) {
	gitOrSkip(t)
	ctx := context.Background()
	repo := initRepo(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(ctx, "01GHI", repo)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(record.WorktreePath, "feature.txt"), []byte("new file\n"), 0644))

	result, err := mgr.Merge(ctx, "01GHI")
	require.NoError(t, err)
	require.True(t, result.Merged)
	require.True(t, result.AutoCommit)
	require.NotEmpty(t, result.CommitSHA)
	require.NoDirExists(t, record.WorktreePath)
	require.FileExists(t, filepath.Join(repo, "feature.txt"))

	_, err = mgr.repo.Get(ctx, "01GHI")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMergeConflict(t *testing.T) {
	gitOrSkip(t)
	ctx := context.Background()
	repo := initRepo(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(ctx, "01JKL", repo)
	require.NoError(t, err)

	// Both sides edit the same line.
	require.NoError(t, os.WriteFile(filepath.Join(record.WorktreePath, "README.md"), []byte("worktree side\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("main side\n"), 0644))
	cmd := exec.Command("git", "commit", "-am", "main side edit")
	cmd.Dir = repo
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))

	result, err := mgr.Merge(ctx, "01JKL")
	require.Error(t, err)
	require.Equal(t, cerr.MergeConflict, cerr.CodeOf(err))
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, "README.md", result.Conflicts[0].Path)

	// The merge was aborted and the workspace survives for retry.
	require.DirExists(t, record.WorktreePath)
}

func TestDiscardIdempotent(t *testing.T) {
	gitOrSkip(t)
	ctx := context.Background()
	repo := initRepo(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(ctx, "01MNO", repo)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(record.WorktreePath, "scratch.txt"), []byte("wip\n"), 0644))

	require.NoError(t, mgr.Discard(ctx, "01MNO"))
	require.NoDirExists(t, record.WorktreePath)

	// Second discard is a no-op.
	require.NoError(t, mgr.Discard(ctx, "01MNO"))
}

func TestListReportsExistence(t *testing.T) {
	gitOrSkip(t)
	ctx := context.Background()
	repo := initRepo(t)
	mgr := newTestManager(t)

	record, err := mgr.Acquire(ctx, "01PQR", repo)
	require.NoError(t, err)

	infos, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.True(t, infos[0].Exists)
	require.Equal(t, record.BranchName, infos[0].BranchName)
}
