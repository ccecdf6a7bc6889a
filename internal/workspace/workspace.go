// Package workspace manages per-task git workspaces. Each task that runs
// inside a git project gets its own branch and worktree so concurrent runs
// never touch each other's files.
package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Record describes one task workspace. Persisted so worktrees survive
// server restarts and can be listed, merged or discarded later.
type Record struct {
	TaskID       string    `yaml:"task_id" json:"task_id"`
	ProjectPath  string    `yaml:"project_path" json:"project_path"`
	BranchName   string    `yaml:"branch_name" json:"branch_name"`
	WorktreePath string    `yaml:"worktree_path" json:"worktree_path"`
	CreatedAt    time.Time `yaml:"created_at" json:"created_at"`
}

// BranchName derives the deterministic branch name for a task. The same
// task always maps to the same branch so re-runs reuse the workspace.
func BranchName(taskID string) string {
	return "task-" + strings.ToLower(taskID)
}

// Repository persists workspace records.
type Repository interface {
	List(ctx context.Context) ([]*Record, error)
	Get(ctx context.Context, taskID string) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Delete(ctx context.Context, taskID string) error
}

// Info is a record annotated with its on-disk state for listings.
type Info struct {
	Record
	Exists bool `json:"exists"`
}

// Diff is the change set of a task workspace against its base.
type Diff struct {
	TaskID      string `json:"task_id"`
	HasWorktree bool   `json:"has_worktree"`
	Branch      string `json:"branch,omitempty"`
	Stat        string `json:"stat,omitempty"`
	Patch       string `json:"patch,omitempty"`
}

// Conflict describes one file that failed to merge.
type Conflict struct {
	Path    string `json:"path"`
	Preview string `json:"preview,omitempty"`
}

// MergeResult reports the outcome of merging a task branch.
type MergeResult struct {
	TaskID     string     `json:"task_id"`
	Branch     string     `json:"branch"`
	Merged     bool       `json:"merged"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`
	CommitSHA  string     `json:"commit_sha,omitempty"`
	AutoCommit bool       `json:"auto_commit,omitempty"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("conflict in %s", c.Path)
}
