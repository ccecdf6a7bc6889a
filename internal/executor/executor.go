// Package executor starts and supervises agent processes. Two adapters
// exist: one spawning a provider CLI as a subprocess and one streaming
// from a hosted model endpoint. Both expose the same Execution surface so
// the coordinator never cares which kind is behind a provider name.
package executor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/taskdock/taskdock/internal/config"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/pkg/cerr"
)

// Spec describes one run of an agent process against a task.
type Spec struct {
	TaskID   string
	Provider string
	WorkDir  string
	Prompt   string
	Resume   bool
	Env      []string
}

// Chunk is one line of process output.
type Chunk struct {
	Kind tasklog.Kind
	Text string
}

// Result is the terminal state of an execution. Err is nil when the
// process exited cleanly or was stopped on request.
type Result struct {
	ExitCode int
	Stopped  bool
	Err      error
}

// Execution is a live agent process. Output is closed once both streams
// are drained; Done then delivers exactly one Result.
type Execution interface {
	Output() <-chan Chunk
	Done() <-chan Result
	// Stop sends an interrupt and escalates to a kill after the grace
	// period. It returns immediately; the outcome arrives on Done.
	Stop()
}

// Executor launches executions for one provider.
type Executor interface {
	Start(ctx context.Context, spec Spec) (Execution, error)
}

// Registry maps provider names to executors, built from configuration.
// A value that looks like a URL becomes an API executor, anything else is
// treated as a CLI command line.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry(env config.ExecEnv, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{executors: make(map[string]Executor)}
	for name, target := range env.Providers {
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			r.executors[name] = NewAPIExecutor(target, logger)
			continue
		}
		cli, err := NewCLIExecutor(target, env.StopGrace, logger)
		if err != nil {
			return nil, cerr.Newf(cerr.InvalidArgument, "invalid command for provider %s: %v", name, err)
		}
		r.executors[name] = cli
	}
	return r, nil
}

// Register adds or replaces a provider executor.
func (r *Registry) Register(name string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = ex
}

// Get resolves a provider name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[name]
	if !ok {
		return nil, cerr.Newf(cerr.ProviderUnavailable, "no executor registered for provider %q", name)
	}
	return ex, nil
}

// Providers lists registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}

const defaultStopGrace = 10 * time.Second
