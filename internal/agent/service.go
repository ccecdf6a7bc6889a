package agent

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdock/taskdock/pkg/cerr"
)

type CreateRequest struct {
	Role        string `json:"role"`
	CLIProvider string `json:"cli_provider"`
}

type UpdateRequest struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Status      Status `json:"status"`
	CLIProvider string `json:"cli_provider"`
}

// Service owns the agent roster. The coordinator flips working/idle through
// SetWorking/SetIdle; the operator sets offline/break through Update.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Agent, error) {
	if strings.TrimSpace(req.Role) == "" {
		return nil, cerr.Newf(cerr.InvalidArgument, "agent role cannot be empty")
	}
	if req.CLIProvider == "" {
		return nil, cerr.Newf(cerr.InvalidArgument, "agent cli_provider cannot be empty")
	}

	now := time.Now()
	a := &Agent{
		ID:          ulid.Make().String(),
		Role:        req.Role,
		Status:      StatusIdle,
		CLIProvider: req.CLIProvider,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Agent, error) {
	if id == "" {
		return nil, cerr.Newf(cerr.InvalidArgument, "agent id cannot be empty")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Agent, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, req *UpdateRequest) (*Agent, error) {
	a, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if req.Role != "" {
		a.Role = req.Role
	}
	if req.Status != "" {
		if !req.Status.Valid() {
			return nil, cerr.Newf(cerr.InvalidArgument, "unknown agent status %q", req.Status)
		}
		if a.Status == StatusWorking && req.Status != StatusWorking {
			return nil, cerr.Newf(cerr.FailedPrecondition, "agent %s is working on task %s, stop the task first", a.ID, a.CurrentTaskID)
		}
		a.Status = req.Status
	}
	if req.CLIProvider != "" {
		a.CLIProvider = req.CLIProvider
	}
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes an agent from the roster. Working agents are protected:
// their run must finish or be stopped first.
func (s *Service) Delete(ctx context.Context, id string) error {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == StatusWorking {
		return cerr.Newf(cerr.FailedPrecondition, "agent %s is working on task %s", id, a.CurrentTaskID)
	}
	return s.repo.Delete(ctx, id)
}

// SetWorking marks the agent busy with taskID.
func (s *Service) SetWorking(ctx context.Context, id, taskID string) (*Agent, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status = StatusWorking
	a.CurrentTaskID = taskID
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetIdle clears the agent's task back-reference.
func (s *Service) SetIdle(ctx context.Context, id string) (*Agent, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status = StatusIdle
	a.CurrentTaskID = ""
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
