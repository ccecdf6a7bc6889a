// Package task defines the task entity, its status machine and persistence.
package task

import (
	"context"
	"time"
)

// Status is a task lifecycle state. Transitions between states are driven
// exclusively by the coordinator through the table below.
type Status string

const (
	StatusInbox      Status = "inbox"
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusPending    Status = "pending"
	StatusCancelled  Status = "cancelled"
)

// transitions is the full status machine. Anything not listed here is
// rejected without mutation.
var transitions = map[Status][]Status{
	StatusInbox:      {StatusInProgress},
	StatusPlanned:    {StatusInProgress},
	StatusInProgress: {StatusPending, StatusCancelled, StatusReview},
	StatusPending:    {StatusInProgress},
	StatusCancelled:  {StatusInProgress},
	StatusReview:     {StatusDone},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Startable reports whether a fresh run may begin from s.
func (s Status) Startable() bool {
	return s == StatusInbox || s == StatusPlanned
}

// Resumable reports whether a previous run may be picked back up from s.
func (s Status) Resumable() bool {
	return s == StatusPending || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInbox, StatusPlanned, StatusInProgress, StatusReview,
		StatusDone, StatusPending, StatusCancelled:
		return true
	}
	return false
}

// Task is a unit of work routed to a coding agent.
type Task struct {
	ID              string    `yaml:"id" json:"id"`
	Title           string    `yaml:"title" json:"title"`
	Description     string    `yaml:"description" json:"description"`
	Status          Status    `yaml:"status" json:"status"`
	Priority        int       `yaml:"priority" json:"priority"`
	Type            string    `yaml:"type" json:"task_type"`
	DepartmentID    string    `yaml:"department_id" json:"department_id"`
	AssignedAgentID string    `yaml:"assigned_agent_id" json:"assigned_agent_id"`
	ProjectPath     string    `yaml:"project_path" json:"project_path"`
	CreatedAt       time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt       time.Time `yaml:"updated_at" json:"updated_at"`
}

// Repository is the persistence boundary for tasks.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
}
