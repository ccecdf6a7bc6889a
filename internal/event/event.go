// Package event is the in-process pub/sub backbone. Components publish
// structured events; the websocket hub and the push dispatcher subscribe.
// Delivery preserves publish order per topic, nothing more.
package event

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdock/taskdock/internal/tasklog"
)

// Type names double as watermill topics and as the `type` field observers see.
type Type string

const (
	TaskUpdate  Type = "task_update"
	CLIOutput   Type = "cli_output"
	AgentStatus Type = "agent_status"
)

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
}

// Envelope is the wire form of one event.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	TaskID    string          `json:"task_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload for transport.
func NewEnvelope(taskID string, payload Payload) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        ulid.Make().String(),
		Type:      payload.EventType(),
		TaskID:    taskID,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

// TaskUpdateData reports a task status transition.
type TaskUpdateData struct {
	TaskID          string `json:"task_id"`
	FromStatus      string `json:"from_status"`
	ToStatus        string `json:"to_status"`
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func (TaskUpdateData) EventType() Type { return TaskUpdate }

// CLIOutputData mirrors one task log entry.
type CLIOutputData struct {
	TaskID    string       `json:"task_id"`
	Seq       uint64       `json:"seq"`
	Kind      tasklog.Kind `json:"kind"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}

func (CLIOutputData) EventType() Type { return CLIOutput }

// FromLogEntry converts a log entry into its broadcast form.
func FromLogEntry(entry *tasklog.Entry) CLIOutputData {
	return CLIOutputData{
		TaskID:    entry.TaskID,
		Seq:       entry.Seq,
		Kind:      entry.Kind,
		Message:   entry.Message,
		CreatedAt: entry.CreatedAt,
	}
}

// AgentStatusData reports an agent status flip.
type AgentStatusData struct {
	AgentID    string `json:"agent_id"`
	TaskID     string `json:"task_id,omitempty"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

func (AgentStatusData) EventType() Type { return AgentStatus }
