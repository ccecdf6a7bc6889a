// Package client is a thin HTTP client for the daemon's REST API, used by
// the CLI subcommands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/server"
	"github.com/taskdock/taskdock/internal/task"
	"github.com/taskdock/taskdock/internal/workspace"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type apiError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, data)
	}
	if env.Error != nil {
		return env.Error
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) CreateTask(ctx context.Context, req *task.CreateRequest) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListTasks(ctx context.Context, status string) ([]*task.Task, error) {
	path := "/api/v1/tasks"
	if status != "" {
		path += "?status=" + status
	}
	var tasks []*task.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) RunTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+id+"/run", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) StopTask(ctx context.Context, id, mode string) (*task.Task, error) {
	var t task.Task
	body := map[string]string{"mode": mode}
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+id+"/stop", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ResumeTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+id+"/resume", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) AssignTask(ctx context.Context, id, agentID string) (*task.Task, error) {
	var t task.Task
	body := map[string]string{"agent_id": agentID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+id+"/assign", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) FinishTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+id+"/finish", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Terminal returns the tail of a task's log.
func (c *Client) Terminal(ctx context.Context, id string, lines int, pretty bool) (*server.TerminalView, error) {
	path := fmt.Sprintf("/api/v1/tasks/%s/terminal?lines=%d&pretty=%t", id, lines, pretty)
	var view server.TerminalView
	if err := c.do(ctx, http.MethodGet, path, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) Diff(ctx context.Context, id string) (*workspace.Diff, error) {
	var d workspace.Diff
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id+"/diff", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Merge(ctx context.Context, id string) (*workspace.MergeResult, error) {
	var result workspace.MergeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+id+"/merge", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Discard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tasks/"+id+"/discard", nil, nil)
}

func (c *Client) ListWorktrees(ctx context.Context) ([]*workspace.Info, error) {
	var infos []*workspace.Info
	if err := c.do(ctx, http.MethodGet, "/api/v1/worktrees", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) CreateAgent(ctx context.Context, req *agent.CreateRequest) (*agent.Agent, error) {
	var a agent.Agent
	if err := c.do(ctx, http.MethodPost, "/api/v1/agents", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListAgents(ctx context.Context) ([]*agent.Agent, error) {
	var agents []*agent.Agent
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}
