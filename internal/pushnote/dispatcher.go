package pushnote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taskdock/taskdock/internal/event"
	"github.com/taskdock/taskdock/internal/task"
)

// Dispatcher turns task status changes into push notifications. Only the
// transitions that need a human produce one.
type Dispatcher struct {
	sender *Sender
	tasks  task.Repository
	logger *slog.Logger
}

func NewDispatcher(sender *Sender, tasks task.Repository, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, tasks: tasks, logger: logger}
}

// Attach registers the dispatcher on the bus. Call before the bus starts.
func (d *Dispatcher) Attach(bus *event.Bus) {
	bus.Handle(event.TaskUpdate, d.handleTaskUpdate)
}

func (d *Dispatcher) handleTaskUpdate(ctx context.Context, env *event.Envelope) error {
	var data event.TaskUpdateData
	if err := json.Unmarshal(env.Payload, &data); err != nil {
		return fmt.Errorf("failed to decode task update: %w", err)
	}

	var title string
	switch task.Status(data.ToStatus) {
	case task.StatusReview:
		title = "Task ready for review"
	case task.StatusPending:
		title = "Task needs attention"
	default:
		return nil
	}

	body := data.TaskID
	if t, err := d.tasks.Get(ctx, data.TaskID); err == nil {
		body = t.Title
	}

	d.sender.SendToAll(ctx, &Payload{
		Title: title,
		Body:  body,
		URL:   fmt.Sprintf("/tasks/%s", data.TaskID),
		Tag:   data.TaskID,
	})
	return nil
}
