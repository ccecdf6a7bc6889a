// Package coordinator drives task runs. It owns the status machine, holds
// the at-most-one-active-run-per-task invariant and pumps process output
// into the task log and the event bus.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/event"
	"github.com/taskdock/taskdock/internal/executor"
	"github.com/taskdock/taskdock/internal/task"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/internal/workspace"
	"github.com/taskdock/taskdock/pkg/cerr"
)

// StopMode selects what a stopped run becomes.
type StopMode string

const (
	// StopPause parks the task in pending so it can be resumed.
	StopPause StopMode = "pause"
	// StopCancel abandons the run and marks the task cancelled.
	StopCancel StopMode = "cancel"
)

func (m StopMode) Valid() bool {
	return m == StopPause || m == StopCancel
}

// handle is one live run. Only the coordinator goroutines touch it after
// creation; mode is written under the coordinator mutex.
type handle struct {
	taskID string
	exec   executor.Execution
	mode   StopMode
}

// Coordinator is the only writer of task status. Everything else observes
// transitions through the event bus.
type Coordinator struct {
	tasks      task.Repository
	agents     *agent.Service
	workspaces *workspace.Manager
	registry   *executor.Registry
	logs       *tasklog.Store
	bus        *event.Bus
	logger     *slog.Logger

	mu      sync.Mutex
	handles map[string]*handle
	wg      conc.WaitGroup
}

func New(
	tasks task.Repository,
	agents *agent.Service,
	workspaces *workspace.Manager,
	registry *executor.Registry,
	logs *tasklog.Store,
	bus *event.Bus,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		tasks:      tasks,
		agents:     agents,
		workspaces: workspaces,
		registry:   registry,
		logs:       logs,
		bus:        bus,
		logger:     logger,
		handles:    make(map[string]*handle),
	}
}

// Run starts a fresh run for a startable task.
func (c *Coordinator) Run(ctx context.Context, taskID string) (*task.Task, error) {
	return c.launch(ctx, taskID, false)
}

// Resume picks a paused or cancelled task back up. The provider process is
// asked to continue its previous session.
func (c *Coordinator) Resume(ctx context.Context, taskID string) (*task.Task, error) {
	return c.launch(ctx, taskID, true)
}

func (c *Coordinator) launch(ctx context.Context, taskID string, resume bool) (*task.Task, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if c.IsActive(taskID) {
		return nil, cerr.Newf(cerr.TaskBusy, "task %s already has an active run", taskID)
	}
	if resume {
		if !t.Status.Resumable() {
			return nil, cerr.Newf(cerr.FailedPrecondition, "task %s cannot resume from status %s", taskID, t.Status)
		}
	} else if !t.Status.Startable() {
		return nil, cerr.Newf(cerr.FailedPrecondition, "task %s cannot start from status %s", taskID, t.Status)
	}
	if t.AssignedAgentID == "" {
		return nil, cerr.Newf(cerr.FailedPrecondition, "task %s has no assigned agent", taskID)
	}

	ag, err := c.agents.Get(ctx, t.AssignedAgentID)
	if err != nil {
		return nil, err
	}
	ex, err := c.registry.Get(ag.CLIProvider)
	if err != nil {
		return nil, err
	}

	// Reserve the slot before any slow work so a concurrent launch for the
	// same task fails fast instead of racing the workspace setup.
	c.mu.Lock()
	if _, exists := c.handles[taskID]; exists {
		c.mu.Unlock()
		return nil, cerr.Newf(cerr.TaskBusy, "task %s already has an active run", taskID)
	}
	h := &handle{taskID: taskID}
	c.handles[taskID] = h
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.handles, taskID)
		c.mu.Unlock()
	}

	record, err := c.workspaces.Acquire(ctx, taskID, t.ProjectPath)
	if err != nil {
		release()
		return nil, err
	}
	workDir := t.ProjectPath
	if record != nil {
		workDir = record.WorktreePath
	}

	h.exec, err = ex.Start(ctx, executor.Spec{
		TaskID:   taskID,
		Provider: ag.CLIProvider,
		WorkDir:  workDir,
		Prompt:   buildPrompt(t),
		Resume:   resume,
	})
	if err != nil {
		release()
		return nil, err
	}

	if err := c.setStatus(ctx, t, task.StatusInProgress, "run started"); err != nil {
		h.exec.Stop()
		release()
		return nil, err
	}
	c.setAgentWorking(ctx, ag.ID, taskID)

	c.wg.Go(func() {
		c.pump(t.ID, ag.ID, h)
	})
	return t, nil
}

// Stop ends the active run of a task. Both modes interrupt the process and
// escalate to a kill after the grace period; they differ only in the status
// the task settles into. The signal is dispatched without blocking and the
// final state arrives through the pump.
func (c *Coordinator) Stop(ctx context.Context, taskID string, mode StopMode) (*task.Task, error) {
	if !mode.Valid() {
		return nil, cerr.Newf(cerr.InvalidArgument, "unknown stop mode %q", mode)
	}
	c.mu.Lock()
	h, ok := c.handles[taskID]
	if ok {
		h.mode = mode
	}
	c.mu.Unlock()
	if !ok {
		return nil, cerr.Newf(cerr.FailedPrecondition, "task %s has no active run", taskID)
	}
	h.exec.Stop()
	return c.tasks.Get(ctx, taskID)
}

// Assign routes a task to an agent. Rejected while a run is active because
// the running process belongs to the previous agent.
func (c *Coordinator) Assign(ctx context.Context, taskID, agentID string) (*task.Task, error) {
	if c.IsActive(taskID) {
		return nil, cerr.Newf(cerr.TaskBusy, "task %s is running, stop it before reassigning", taskID)
	}
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := c.agents.Get(ctx, agentID); err != nil {
		return nil, err
	}
	t.AssignedAgentID = agentID
	if err := c.tasks.Update(ctx, t); err != nil {
		return nil, err
	}
	c.publishTaskUpdate(ctx, t, t.Status, t.Status, "agent assigned")
	return t, nil
}

// Finish moves a reviewed task to done.
func (c *Coordinator) Finish(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := c.setStatus(ctx, t, task.StatusDone, "approved"); err != nil {
		return nil, err
	}
	return t, nil
}

// Recover parks every task left in_progress by a previous process. Called
// once on startup, before the API accepts requests.
func (c *Coordinator) Recover(ctx context.Context) error {
	tasks, err := c.tasks.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks for recovery: %w", err)
	}
	for _, t := range tasks {
		if t.Status != task.StatusInProgress {
			continue
		}
		if err := c.setStatus(ctx, t, task.StatusPending, "recovered after restart"); err != nil {
			c.logger.Error("failed to recover task", "task_id", t.ID, "error", err)
			continue
		}
		c.logger.Info("task recovered to pending", "task_id", t.ID)
	}
	return nil
}

// IsActive reports whether a task has a live run.
func (c *Coordinator) IsActive(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handles[taskID]
	return ok
}

// Active lists task IDs with live runs.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.handles))
	for id := range c.handles {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every active run and waits for the pumps to drain.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for _, h := range c.handles {
		h.mode = StopPause
		h.exec.Stop()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// pump relays process output into the task log and the event bus, then
// settles the task's final status when the run ends.
func (c *Coordinator) pump(taskID, agentID string, h *handle) {
	ctx := context.Background()

	for chunk := range h.exec.Output() {
		c.appendLog(ctx, taskID, chunk.Kind, chunk.Text)
	}
	result := <-h.exec.Done()

	c.mu.Lock()
	mode := h.mode
	delete(c.handles, taskID)
	c.mu.Unlock()

	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		c.logger.Error("failed to load task after run", "task_id", taskID, "error", err)
		return
	}

	switch {
	case mode == StopCancel:
		_ = c.setStatus(ctx, t, task.StatusCancelled, "cancelled by operator")
	case mode == StopPause:
		_ = c.setStatus(ctx, t, task.StatusPending, "paused by operator")
	case result.Err != nil:
		c.appendLog(ctx, taskID, tasklog.KindSystem,
			fmt.Sprintf("run failed (exit code %d): %v", result.ExitCode, result.Err))
		_ = c.setStatus(ctx, t, task.StatusPending, "run failed")
	case result.Stopped:
		_ = c.setStatus(ctx, t, task.StatusPending, "run interrupted")
	default:
		_ = c.setStatus(ctx, t, task.StatusReview, "run completed")
	}

	c.setAgentIdle(ctx, agentID)
	c.logger.Info("run finished",
		"task_id", taskID, "status", t.Status, "exit_code", result.ExitCode)
}

// setStatus applies one legal transition, persists it and emits both the
// status log line and the task_update event.
func (c *Coordinator) setStatus(ctx context.Context, t *task.Task, to task.Status, reason string) error {
	from := t.Status
	if !task.CanTransition(from, to) {
		return cerr.Newf(cerr.FailedPrecondition, "illegal status transition %s -> %s for task %s", from, to, t.ID)
	}
	t.Status = to
	if err := c.tasks.Update(ctx, t); err != nil {
		t.Status = from
		return err
	}
	c.appendLog(ctx, t.ID, tasklog.KindStatus, fmt.Sprintf("status changed: %s -> %s (%s)", from, to, reason))
	c.publishTaskUpdate(ctx, t, from, to, reason)
	return nil
}

func (c *Coordinator) appendLog(ctx context.Context, taskID string, kind tasklog.Kind, message string) {
	entry, err := c.logs.Append(taskID, kind, message)
	if err != nil {
		c.logger.Error("failed to append task log", "task_id", taskID, "error", err)
		return
	}
	if err := c.bus.Publish(ctx, taskID, event.FromLogEntry(entry)); err != nil {
		c.logger.Error("failed to publish output event", "task_id", taskID, "error", err)
	}
}

func (c *Coordinator) publishTaskUpdate(ctx context.Context, t *task.Task, from, to task.Status, reason string) {
	err := c.bus.Publish(ctx, t.ID, event.TaskUpdateData{
		TaskID:          t.ID,
		FromStatus:      string(from),
		ToStatus:        string(to),
		AssignedAgentID: t.AssignedAgentID,
		Reason:          reason,
	})
	if err != nil {
		c.logger.Error("failed to publish task update", "task_id", t.ID, "error", err)
	}
}

func (c *Coordinator) setAgentWorking(ctx context.Context, agentID, taskID string) {
	if _, err := c.agents.SetWorking(ctx, agentID, taskID); err != nil {
		c.logger.Warn("failed to mark agent working", "agent_id", agentID, "error", err)
		return
	}
	c.publishAgentStatus(ctx, agentID, taskID, string(agent.StatusIdle), string(agent.StatusWorking))
}

func (c *Coordinator) setAgentIdle(ctx context.Context, agentID string) {
	if _, err := c.agents.SetIdle(ctx, agentID); err != nil {
		c.logger.Warn("failed to mark agent idle", "agent_id", agentID, "error", err)
		return
	}
	c.publishAgentStatus(ctx, agentID, "", string(agent.StatusWorking), string(agent.StatusIdle))
}

func (c *Coordinator) publishAgentStatus(ctx context.Context, agentID, taskID, from, to string) {
	err := c.bus.Publish(ctx, taskID, event.AgentStatusData{
		AgentID:    agentID,
		TaskID:     taskID,
		FromStatus: from,
		ToStatus:   to,
	})
	if err != nil {
		c.logger.Error("failed to publish agent status", "agent_id", agentID, "error", err)
	}
}

func buildPrompt(t *task.Task) string {
	if t.Description == "" {
		return t.Title
	}
	return t.Title + "\n\n" + t.Description
}
