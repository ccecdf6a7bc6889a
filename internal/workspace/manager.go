package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/taskdock/taskdock/pkg/cerr"
)

const worktreesDir = ".taskdock/worktrees"

// Manager creates and tears down per-task worktrees. Tasks outside a git
// repository get no workspace; Acquire reports that with a nil record and
// the run proceeds directly in the project directory.
type Manager struct {
	repo   Repository
	logger *slog.Logger
}

func NewManager(repo Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, logger: logger}
}

// Acquire returns the workspace for a task, creating branch and worktree on
// first use. Idempotent: an existing record whose worktree is still on disk
// is returned as is, and a record whose worktree vanished is rebuilt.
func (m *Manager) Acquire(ctx context.Context, taskID, projectPath string) (*Record, error) {
	if projectPath == "" || !isGitRepo(ctx, projectPath) {
		return nil, nil
	}
	root, err := repoRoot(ctx, projectPath)
	if err != nil {
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to resolve project repository", err)
	}

	if record, err := m.repo.Get(ctx, taskID); err == nil {
		if _, statErr := os.Stat(record.WorktreePath); statErr == nil {
			return record, nil
		}
		// Stale record: the worktree directory is gone. Prune git's
		// bookkeeping and fall through to recreate it.
		_, _ = runGit(ctx, root, "worktree", "prune")
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	branch := BranchName(taskID)
	wtPath := filepath.Join(root, worktreesDir, taskID)
	if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to create worktrees directory", err)
	}

	args := []string{"worktree", "add"}
	if branchExists(ctx, root, branch) {
		args = append(args, wtPath, branch)
	} else {
		args = append(args, "-b", branch, wtPath)
	}
	if _, err := runGit(ctx, root, args...); err != nil {
		_ = os.RemoveAll(wtPath)
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to create worktree", err)
	}

	record := &Record{
		TaskID:       taskID,
		ProjectPath:  root,
		BranchName:   branch,
		WorktreePath: wtPath,
		CreatedAt:    time.Now(),
	}
	if err := m.repo.Save(ctx, record); err != nil {
		return nil, err
	}
	m.logger.Info("workspace acquired",
		"task_id", taskID, "branch", branch, "worktree", wtPath)
	return record, nil
}

// Diff returns the workspace changes relative to the base branch: everything
// committed on the task branch since it diverged plus whatever is still
// uncommitted in the worktree. A task without a worktree yields HasWorktree
// false rather than an error.
func (m *Manager) Diff(ctx context.Context, taskID string) (*Diff, error) {
	record, err := m.repo.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return &Diff{TaskID: taskID}, nil
		}
		return nil, err
	}
	if _, err := os.Stat(record.WorktreePath); err != nil {
		return &Diff{TaskID: taskID}, nil
	}

	base, err := runGit(ctx, record.ProjectPath, "rev-parse", "HEAD")
	if err != nil {
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to resolve base commit", err)
	}
	mergeBase, err := runGit(ctx, record.WorktreePath, "merge-base", base, "HEAD")
	if err != nil {
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to resolve merge base", err)
	}

	stat, err := runGit(ctx, record.WorktreePath, "diff", mergeBase, "--stat")
	if err != nil {
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to diff workspace", err)
	}
	patch, err := runGit(ctx, record.WorktreePath, "diff", mergeBase)
	if err != nil {
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to diff workspace", err)
	}
	return &Diff{
		TaskID:      taskID,
		HasWorktree: true,
		Branch:      record.BranchName,
		Stat:        stat,
		Patch:       patch,
	}, nil
}

// Merge folds the task branch into the branch the project repository is on.
// Uncommitted worktree changes are committed first so nothing is lost. On
// conflict the merge is aborted and the conflicting paths are reported.
func (m *Manager) Merge(ctx context.Context, taskID string) (*MergeResult, error) {
	record, err := m.repo.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, cerr.Newf(cerr.FailedPrecondition, "task %s has no workspace to merge", taskID)
		}
		return nil, err
	}
	if _, err := os.Stat(record.WorktreePath); err != nil {
		return nil, cerr.Newf(cerr.FailedPrecondition, "worktree for task %s is missing", taskID)
	}

	result := &MergeResult{TaskID: taskID, Branch: record.BranchName}

	dirty, err := isDirty(ctx, record.WorktreePath)
	if err != nil {
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to inspect worktree", err)
	}
	if dirty {
		if _, err := runGit(ctx, record.WorktreePath, "add", "-A"); err != nil {
			return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to stage workspace changes", err)
		}
		msg := fmt.Sprintf("Task %s: commit outstanding changes before merge", taskID)
		if _, err := runGit(ctx, record.WorktreePath, "commit", "-m", msg); err != nil {
			return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to commit workspace changes", err)
		}
		result.AutoCommit = true
	}

	mergeMsg := fmt.Sprintf("Merge branch '%s'", record.BranchName)
	if _, err := runGit(ctx, record.ProjectPath, "merge", "--no-ff", record.BranchName, "-m", mergeMsg); err != nil {
		conflicts := m.collectConflicts(ctx, record.ProjectPath)
		_, _ = runGit(ctx, record.ProjectPath, "merge", "--abort")
		if len(conflicts) > 0 {
			result.Conflicts = conflicts
			return result, cerr.Newf(cerr.MergeConflict, "merge of %s conflicts in %d file(s)", record.BranchName, len(conflicts))
		}
		return nil, cerr.New(cerr.WorkspaceUnavailable, "failed to merge task branch", err)
	}

	sha, err := runGit(ctx, record.ProjectPath, "rev-parse", "HEAD")
	if err == nil {
		result.CommitSHA = sha
	}
	result.Merged = true

	// Merged cleanly: the worktree and branch have served their purpose.
	if err := m.remove(ctx, record, false); err != nil {
		m.logger.Warn("failed to clean up merged workspace", "task_id", taskID, "error", err)
	}
	m.logger.Info("workspace merged", "task_id", taskID, "branch", record.BranchName, "commit", result.CommitSHA)
	return result, nil
}

// Discard drops the worktree, branch and record for a task. Idempotent:
// discarding a task without a workspace succeeds.
func (m *Manager) Discard(ctx context.Context, taskID string) error {
	record, err := m.repo.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if err := m.remove(ctx, record, true); err != nil {
		return cerr.New(cerr.WorkspaceUnavailable, "failed to discard workspace", err)
	}
	m.logger.Info("workspace discarded", "task_id", taskID, "branch", record.BranchName)
	return nil
}

// List returns every known workspace with its on-disk state.
func (m *Manager) List(ctx context.Context) ([]*Info, error) {
	records, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]*Info, 0, len(records))
	for _, record := range records {
		_, statErr := os.Stat(record.WorktreePath)
		infos = append(infos, &Info{Record: *record, Exists: statErr == nil})
	}
	return infos, nil
}

// Path returns the working directory a task's process should run in:
// the worktree when one exists, otherwise the project directory itself.
func (m *Manager) Path(ctx context.Context, taskID, projectPath string) string {
	record, err := m.repo.Get(ctx, taskID)
	if err != nil {
		return projectPath
	}
	if _, err := os.Stat(record.WorktreePath); err != nil {
		return projectPath
	}
	return record.WorktreePath
}

func (m *Manager) remove(ctx context.Context, record *Record, force bool) error {
	if _, err := os.Stat(record.WorktreePath); err == nil {
		args := []string{"worktree", "remove", record.WorktreePath}
		if force {
			args = append(args, "--force")
		}
		if _, err := runGit(ctx, record.ProjectPath, args...); err != nil {
			return err
		}
	} else {
		_, _ = runGit(ctx, record.ProjectPath, "worktree", "prune")
	}
	if branchExists(ctx, record.ProjectPath, record.BranchName) {
		flag := "-d"
		if force {
			flag = "-D"
		}
		if _, err := runGit(ctx, record.ProjectPath, "branch", flag, record.BranchName); err != nil {
			return err
		}
	}
	return m.repo.Delete(ctx, record.TaskID)
}

// collectConflicts lists unmerged paths and renders a small ours/theirs
// preview for each so the caller can show what collided.
func (m *Manager) collectConflicts(ctx context.Context, projectPath string) []Conflict {
	out, err := runGit(ctx, projectPath, "diff", "--name-only", "--diff-filter=U")
	if err != nil || out == "" {
		return nil
	}
	var conflicts []Conflict
	for _, path := range strings.Split(out, "\n") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Path:    path,
			Preview: conflictPreview(ctx, projectPath, path),
		})
	}
	return conflicts
}

// conflictPreview diffs the "ours" and "theirs" index stages of an unmerged
// path. Best effort: an empty preview just means the sides were unreadable.
func conflictPreview(ctx context.Context, projectPath, path string) string {
	ours, err := runGit(ctx, projectPath, "show", ":2:"+path)
	if err != nil {
		return ""
	}
	theirs, err := runGit(ctx, projectPath, "show", ":3:"+path)
	if err != nil {
		return ""
	}
	preview, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(ours),
		B:        difflib.SplitLines(theirs),
		FromFile: "ours/" + path,
		ToFile:   "theirs/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return preview
}
