// Package agent defines the worker roster: each agent is bound to one coding
// assistant provider and owns at most one task at a time.
package agent

import (
	"context"
	"time"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusOffline Status = "offline"
	StatusBreak   Status = "break"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusOffline, StatusBreak:
		return true
	}
	return false
}

type Agent struct {
	ID            string    `yaml:"id" json:"id"`
	Role          string    `yaml:"role" json:"role"`
	Status        Status    `yaml:"status" json:"status"`
	CLIProvider   string    `yaml:"cli_provider" json:"cli_provider"`
	CurrentTaskID string    `yaml:"current_task_id" json:"current_task_id"`
	CreatedAt     time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at" json:"updated_at"`
}

// Available reports whether the agent can pick up a run.
func (a *Agent) Available() bool {
	return a.Status == StatusIdle && a.CurrentTaskID == ""
}

type Repository interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context) ([]*Agent, error)
	Update(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, id string) error
}
