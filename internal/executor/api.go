package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/pkg/cerr"
)

// APIExecutor streams agent output from a hosted model endpoint. The
// endpoint receives one JSON request and answers with newline-delimited
// output until the run completes.
type APIExecutor struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewAPIExecutor(endpoint string, logger *slog.Logger) *APIExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIExecutor{
		endpoint: endpoint,
		// No overall timeout: runs are long-lived and bounded by Stop.
		client: &http.Client{Timeout: 0},
		logger: logger,
	}
}

type apiRequest struct {
	TaskID  string `json:"task_id"`
	Prompt  string `json:"prompt"`
	WorkDir string `json:"work_dir,omitempty"`
	Resume  bool   `json:"resume,omitempty"`
}

func (e *APIExecutor) Start(ctx context.Context, spec Spec) (Execution, error) {
	body, err := json.Marshal(apiRequest{
		TaskID:  spec.TaskID,
		Prompt:  spec.Prompt,
		WorkDir: spec.WorkDir,
		Resume:  spec.Resume,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	// Detached from the caller's context so the run outlives the HTTP
	// request that triggered it. Stop cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		cancel()
		return nil, cerr.New(cerr.ProviderUnavailable, "provider endpoint unreachable", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, cerr.Newf(cerr.ProviderUnavailable, "provider endpoint returned %s", resp.Status)
	}
	e.logger.Info("provider stream opened", "task_id", spec.TaskID, "endpoint", e.endpoint)

	x := &apiExecution{
		cancel: cancel,
		output: make(chan Chunk, 64),
		done:   make(chan Result, 1),
	}
	go x.read(resp)
	return x, nil
}

type apiExecution struct {
	cancel   context.CancelFunc
	output   chan Chunk
	done     chan Result
	stopOnce sync.Once
	stopped  bool
	stopMu   sync.Mutex
}

func (x *apiExecution) Output() <-chan Chunk { return x.output }
func (x *apiExecution) Done() <-chan Result  { return x.done }

// Stop cancels the stream. There is no process to signal, so cancelling
// the request context is the whole termination story.
func (x *apiExecution) Stop() {
	x.stopOnce.Do(func() {
		x.stopMu.Lock()
		x.stopped = true
		x.stopMu.Unlock()
		x.cancel()
	})
}

func (x *apiExecution) read(resp *http.Response) {
	defer resp.Body.Close()
	defer x.cancel()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		x.output <- Chunk{Kind: tasklog.KindStdout, Text: line}
	}
	err := scanner.Err()
	close(x.output)

	x.stopMu.Lock()
	stopped := x.stopped
	x.stopMu.Unlock()

	result := Result{Stopped: stopped}
	if err != nil && !stopped {
		result.ExitCode = -1
		result.Err = cerr.New(cerr.ExecutionFailed, "provider stream failed", err)
	}
	x.done <- result
}
