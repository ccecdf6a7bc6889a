// Package tasklog is the append-only per-task execution log. Every output
// chunk and lifecycle note lands here with a per-task sequence number, which
// is the replay ordering key for observers.
package tasklog

import "time"

type Kind string

const (
	KindStdout Kind = "stdout"
	KindStderr Kind = "stderr"
	KindSystem Kind = "system"
	KindStatus Kind = "status"
)

// Entry is one log record. Entries are never mutated after append.
type Entry struct {
	TaskID    string    `json:"task_id"`
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
