package task

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdock/taskdock/pkg/cerr"
)

// CreateRequest carries the operator-supplied fields for a new task.
type CreateRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Status       Status `json:"status"`
	Priority     int    `json:"priority"`
	Type         string `json:"task_type"`
	DepartmentID string `json:"department_id"`
	ProjectPath  string `json:"project_path"`
}

// UpdateRequest carries operator-editable fields. Status is intentionally
// absent: only the coordinator moves tasks between states.
type UpdateRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Type        string `json:"task_type"`
}

// Service owns task CRUD and its validation rules.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Task, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, cerr.Newf(cerr.InvalidArgument, "task title cannot be empty")
	}

	status := req.Status
	if status == "" {
		status = StatusInbox
	}
	if status != StatusInbox && status != StatusPlanned {
		return nil, cerr.Newf(cerr.InvalidArgument, "new tasks must start in inbox or planned, got %q", status)
	}

	priority := req.Priority
	if priority == 0 {
		priority = 3
	}
	if priority < 1 || priority > 5 {
		return nil, cerr.Newf(cerr.InvalidArgument, "priority must be between 1 and 5, got %d", priority)
	}

	taskType := req.Type
	if taskType == "" {
		taskType = "task"
	}

	now := time.Now()
	t := &Task{
		ID:           ulid.Make().String(),
		Title:        req.Title,
		Description:  req.Description,
		Status:       status,
		Priority:     priority,
		Type:         taskType,
		DepartmentID: req.DepartmentID,
		ProjectPath:  req.ProjectPath,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, cerr.Newf(cerr.InvalidArgument, "task id cannot be empty")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Task, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, req *UpdateRequest) (*Task, error) {
	t, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if req.Title != "" {
		t.Title = req.Title
	}
	if req.Description != "" {
		t.Description = req.Description
	}
	if req.Priority != 0 {
		if req.Priority < 1 || req.Priority > 5 {
			return nil, cerr.Newf(cerr.InvalidArgument, "priority must be between 1 and 5, got %d", req.Priority)
		}
		t.Priority = req.Priority
	}
	if req.Type != "" {
		t.Type = req.Type
	}
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a task. Running tasks must be stopped first.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == StatusInProgress {
		return cerr.Newf(cerr.FailedPrecondition, "task %s is in progress, stop it before deleting", id)
	}
	return s.repo.Delete(ctx, id)
}
