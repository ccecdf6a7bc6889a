package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/config"
	"github.com/taskdock/taskdock/internal/event"
	"github.com/taskdock/taskdock/internal/executor"
	"github.com/taskdock/taskdock/internal/task"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/internal/workspace"
	"github.com/taskdock/taskdock/pkg/cerr"
	"github.com/taskdock/taskdock/pkg/storage"
)

type fakeExecution struct {
	output chan executor.Chunk
	done   chan executor.Result

	mu     sync.Mutex
	closed bool
}

func newFakeExecution() *fakeExecution {
	return &fakeExecution{
		output: make(chan executor.Chunk, 16),
		done:   make(chan executor.Result, 1),
	}
}

func (f *fakeExecution) Output() <-chan executor.Chunk { return f.output }
func (f *fakeExecution) Done() <-chan executor.Result  { return f.done }

func (f *fakeExecution) Stop() {
	f.finish(executor.Result{Stopped: true})
}

func (f *fakeExecution) emit(text string) {
	f.output <- executor.Chunk{Kind: tasklog.KindStdout, Text: text}
}

func (f *fakeExecution) finish(result executor.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.output)
	f.done <- result
}

type fakeExecutor struct {
	mu    sync.Mutex
	execs []*fakeExecution
}

func (f *fakeExecutor) Start(ctx context.Context, spec executor.Spec) (executor.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	x := newFakeExecution()
	f.execs = append(f.execs, x)
	return x, nil
}

func (f *fakeExecutor) last() *fakeExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.execs) == 0 {
		return nil
	}
	return f.execs[len(f.execs)-1]
}

type fixture struct {
	coord   *Coordinator
	tasks   task.Repository
	agents  *agent.Service
	fake    *fakeExecutor
	logs    *tasklog.Store
	bus     *event.Bus
	agentID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	logs, err := tasklog.NewStore(t.TempDir())
	require.NoError(t, err)
	bus, err := event.NewBus(nil)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go func() { _ = bus.Start(runCtx) }()
	<-bus.Running()

	tasks := task.NewYAMLRepository(store)
	agents := agent.NewService(agent.NewYAMLRepository(store))
	workspaces := workspace.NewManager(workspace.NewYAMLRepository(store), nil)

	registry, err := executor.NewRegistry(config.ExecEnv{StopGrace: time.Second}, nil)
	require.NoError(t, err)
	fake := &fakeExecutor{}
	registry.Register("fake", fake)

	ag, err := agents.Create(ctx, &agent.CreateRequest{Role: "engineer", CLIProvider: "fake"})
	require.NoError(t, err)

	coord := New(tasks, agents, workspaces, registry, logs, bus, nil)
	return &fixture{
		coord:   coord,
		tasks:   tasks,
		agents:  agents,
		fake:    fake,
		logs:    logs,
		bus:     bus,
		agentID: ag.ID,
	}
}

func (f *fixture) createTask(t *testing.T, status task.Status) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:              ulid.Make().String(),
		Title:           "test task",
		Status:          status,
		Priority:        3,
		AssignedAgentID: f.agentID,
	}
	require.NoError(t, f.tasks.Create(context.Background(), tk))
	return tk
}

func (f *fixture) waitStatus(t *testing.T, taskID string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		tk, err := f.tasks.Get(context.Background(), taskID)
		require.NoError(t, err)
		if tk.Status == want {
			return tk
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached %s, stuck at %s", taskID, want, tk.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusPlanned)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)
	require.True(t, f.coord.IsActive(tk.ID))
	f.waitStatus(t, tk.ID, task.StatusInProgress)

	ag, err := f.agents.Get(ctx, f.agentID)
	require.NoError(t, err)
	require.Equal(t, agent.StatusWorking, ag.Status)

	x := f.fake.last()
	x.emit("working on it")
	x.finish(executor.Result{ExitCode: 0})

	f.waitStatus(t, tk.ID, task.StatusReview)
	require.False(t, f.coord.IsActive(tk.ID))

	ag, err = f.agents.Get(ctx, f.agentID)
	require.NoError(t, err)
	require.Equal(t, agent.StatusIdle, ag.Status)

	entries, err := f.logs.Tail(tk.ID, 10)
	require.NoError(t, err)
	var sawOutput bool
	for _, e := range entries {
		if e.Kind == tasklog.KindStdout && e.Message == "working on it" {
			sawOutput = true
		}
	}
	require.True(t, sawOutput, "stdout chunk should land in the task log")
}

func TestRunRejectsSecondRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusInbox)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)

	_, err = f.coord.Run(ctx, tk.ID)
	require.Error(t, err)
	require.Equal(t, cerr.TaskBusy, cerr.CodeOf(err))

	f.fake.last().finish(executor.Result{})
	f.waitStatus(t, tk.ID, task.StatusReview)
}

func TestResumeRejectsActiveRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusInbox)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)

	_, err = f.coord.Resume(ctx, tk.ID)
	require.Error(t, err)
	require.Equal(t, cerr.TaskBusy, cerr.CodeOf(err))

	f.fake.last().finish(executor.Result{})
	f.waitStatus(t, tk.ID, task.StatusReview)
}

func TestRunRejectsWrongStatus(t *testing.T) {
	f := newFixture(t)
	tk := f.createTask(t, task.StatusDone)

	_, err := f.coord.Run(context.Background(), tk.ID)
	require.Error(t, err)
	require.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestRunUnknownTask(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Run(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, cerr.NotFound, cerr.CodeOf(err))
}

func TestRunRequiresAssignedAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusInbox)
	tk.AssignedAgentID = ""
	require.NoError(t, f.tasks.Update(ctx, tk))

	_, err := f.coord.Run(ctx, tk.ID)
	require.Error(t, err)
	require.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestStopPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusPlanned)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)

	_, err = f.coord.Stop(ctx, tk.ID, StopPause)
	require.NoError(t, err)
	f.waitStatus(t, tk.ID, task.StatusPending)
	require.False(t, f.coord.IsActive(tk.ID))
}

func TestStopCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusPlanned)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)

	_, err = f.coord.Stop(ctx, tk.ID, StopCancel)
	require.NoError(t, err)
	f.waitStatus(t, tk.ID, task.StatusCancelled)
}

func TestStopWithoutRun(t *testing.T) {
	f := newFixture(t)
	tk := f.createTask(t, task.StatusPlanned)

	_, err := f.coord.Stop(context.Background(), tk.ID, StopPause)
	require.Error(t, err)
	require.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestResumeAfterPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusPlanned)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)
	_, err = f.coord.Stop(ctx, tk.ID, StopPause)
	require.NoError(t, err)
	f.waitStatus(t, tk.ID, task.StatusPending)

	_, err = f.coord.Resume(ctx, tk.ID)
	require.NoError(t, err)
	f.waitStatus(t, tk.ID, task.StatusInProgress)

	f.fake.last().finish(executor.Result{})
	f.waitStatus(t, tk.ID, task.StatusReview)
}

func TestResumeFromCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusCancelled)

	_, err := f.coord.Resume(ctx, tk.ID)
	require.NoError(t, err)
	f.waitStatus(t, tk.ID, task.StatusInProgress)

	f.fake.last().finish(executor.Result{})
	f.waitStatus(t, tk.ID, task.StatusReview)
}

func TestResumeRejectsFreshTask(t *testing.T) {
	f := newFixture(t)
	tk := f.createTask(t, task.StatusInbox)

	_, err := f.coord.Resume(context.Background(), tk.ID)
	require.Error(t, err)
	require.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestRunFailureParksTaskPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusPlanned)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)

	f.fake.last().finish(executor.Result{
		ExitCode: 1,
		Err:      cerr.Newf(cerr.ExecutionFailed, "boom"),
	})
	f.waitStatus(t, tk.ID, task.StatusPending)

	entries, err := f.logs.Tail(tk.ID, 10)
	require.NoError(t, err)
	var sawFailure bool
	for _, e := range entries {
		if e.Kind == tasklog.KindSystem {
			sawFailure = true
		}
	}
	require.True(t, sawFailure, "failure should leave a system log entry")
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusInbox)

	other, err := f.agents.Create(ctx, &agent.CreateRequest{Role: "reviewer", CLIProvider: "fake"})
	require.NoError(t, err)

	updated, err := f.coord.Assign(ctx, tk.ID, other.ID)
	require.NoError(t, err)
	require.Equal(t, other.ID, updated.AssignedAgentID)
}

func TestAssignRejectsActiveRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusPlanned)

	_, err := f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)

	_, err = f.coord.Assign(ctx, tk.ID, f.agentID)
	require.Error(t, err)
	require.Equal(t, cerr.TaskBusy, cerr.CodeOf(err))

	f.fake.last().finish(executor.Result{})
	f.waitStatus(t, tk.ID, task.StatusReview)
}

func TestFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, task.StatusReview)

	done, err := f.coord.Finish(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, done.Status)

	_, err = f.coord.Finish(ctx, tk.ID)
	require.Error(t, err)
	require.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.createTask(t, task.StatusInProgress)
	untouched := f.createTask(t, task.StatusReview)

	require.NoError(t, f.coord.Recover(ctx))

	recovered, err := f.tasks.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, recovered.Status)

	same, err := f.tasks.Get(ctx, untouched.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusReview, same.Status)
}

func TestTaskUpdateEventsFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updates := make(chan *event.Envelope, 8)
	ch, err := f.bus.Subscribe(ctx, event.TaskUpdate)
	require.NoError(t, err)
	go func() {
		for msg := range ch {
			var env event.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err == nil {
				updates <- &env
			}
			msg.Ack()
		}
	}()

	tk := f.createTask(t, task.StatusPlanned)
	_, err = f.coord.Run(ctx, tk.ID)
	require.NoError(t, err)

	select {
	case env := <-updates:
		require.Equal(t, tk.ID, env.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("no task_update event observed")
	}

	f.fake.last().finish(executor.Result{})
	f.waitStatus(t, tk.ID, task.StatusReview)
}
