package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/pkg/cerr"
)

// CLIExecutor runs a provider CLI as a subprocess. The prompt is written
// to stdin and stdout/stderr are streamed line by line.
type CLIExecutor struct {
	argv      []string
	stopGrace time.Duration
	// resumeArg is appended when a run continues an earlier session.
	resumeArg string
	logger    *slog.Logger
}

func NewCLIExecutor(commandLine string, stopGrace time.Duration, logger *slog.Logger) (*CLIExecutor, error) {
	argv := strings.Fields(commandLine)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command line")
	}
	if stopGrace <= 0 {
		stopGrace = defaultStopGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIExecutor{
		argv:      argv,
		stopGrace: stopGrace,
		resumeArg: "--continue",
		logger:    logger,
	}, nil
}

func (e *CLIExecutor) Start(ctx context.Context, spec Spec) (Execution, error) {
	if _, err := exec.LookPath(e.argv[0]); err != nil {
		return nil, cerr.Newf(cerr.ProviderUnavailable, "command %q not found", e.argv[0])
	}

	args := e.argv[1:]
	if spec.Resume {
		args = append(append([]string{}, args...), e.resumeArg)
	}
	cmd := exec.Command(e.argv[0], args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Env = append(cmd.Env, "TASKDOCK_TASK_ID="+spec.TaskID)
	cmd.Stdin = strings.NewReader(spec.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, cerr.New(cerr.ProviderUnavailable, "failed to start provider process", err)
	}
	e.logger.Info("provider process started",
		"task_id", spec.TaskID, "command", e.argv[0], "pid", cmd.Process.Pid)

	x := &cliExecution{
		cmd:       cmd,
		stopGrace: e.stopGrace,
		output:    make(chan Chunk, 64),
		done:      make(chan Result, 1),
		exited:    make(chan struct{}),
	}
	x.readers.Add(2)
	go x.readPipe(stdout, tasklog.KindStdout)
	go x.readPipe(stderr, tasklog.KindStderr)
	go x.wait()
	return x, nil
}

type cliExecution struct {
	cmd       *exec.Cmd
	stopGrace time.Duration
	output    chan Chunk
	done      chan Result
	exited    chan struct{}
	readers   sync.WaitGroup
	stopOnce  sync.Once
	stopped   bool
	stopMu    sync.Mutex
}

func (x *cliExecution) Output() <-chan Chunk { return x.output }
func (x *cliExecution) Done() <-chan Result  { return x.done }

func (x *cliExecution) Stop() {
	x.stopOnce.Do(func() {
		x.stopMu.Lock()
		x.stopped = true
		x.stopMu.Unlock()

		if err := x.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = x.cmd.Process.Kill()
			return
		}
		// Escalate off the caller's goroutine; Stop must not block.
		go func() {
			select {
			case <-x.exited:
			case <-time.After(x.stopGrace):
				_ = x.cmd.Process.Kill()
			}
		}()
	})
}

func (x *cliExecution) readPipe(pipe io.Reader, kind tasklog.Kind) {
	defer x.readers.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		x.output <- Chunk{Kind: kind, Text: line}
	}
}

func (x *cliExecution) wait() {
	x.readers.Wait()
	err := x.cmd.Wait()
	close(x.exited)
	close(x.output)

	x.stopMu.Lock()
	stopped := x.stopped
	x.stopMu.Unlock()

	result := Result{Stopped: stopped}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if !stopped {
			result.Err = cerr.New(cerr.ExecutionFailed, "provider process failed", err)
		}
	}
	x.done <- result
}
