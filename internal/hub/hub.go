// Package hub fans events out to websocket observers. Each connection gets
// its own ordered stream; a connection that stops reading is dropped rather
// than allowed to stall the rest.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/taskdock/taskdock/internal/event"
	"github.com/taskdock/taskdock/internal/tasklog"
)

// Hub relays bus events to connected clients.
type Hub struct {
	bus    *event.Bus
	logs   *tasklog.Store
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan *event.Envelope
	clients    map[*client]struct{}
	done       chan struct{}
}

func New(bus *event.Bus, logs *tasklog.Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:        bus,
		logs:       logs,
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *event.Envelope, 256),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run subscribes to every event topic and serves clients until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	for _, topic := range []event.Type{event.TaskUpdate, event.CLIOutput, event.AgentStatus} {
		ch, err := h.bus.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go h.consume(ch)
	}

	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close()
			}
			return ctx.Err()
		case c := <-h.register:
			h.replay(c)
			h.clients[c] = struct{}{}
			h.logger.Debug("observer connected", "task_id", c.taskID, "observers", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.logger.Debug("observer disconnected", "observers", len(h.clients))
		case env := <-h.broadcast:
			for c := range h.clients {
				if c.taskID != "" && env.TaskID != "" && c.taskID != env.TaskID {
					continue
				}
				if !c.trySend(env) {
					// Slow consumer: cut it loose so everyone else keeps
					// receiving in order.
					delete(h.clients, c)
					c.close()
					h.logger.Warn("dropped slow observer", "task_id", c.taskID)
				}
			}
		}
	}
}

func (h *Hub) consume(ch <-chan *message.Message) {
	for msg := range ch {
		var env event.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			h.logger.Error("failed to decode event", "error", err)
			msg.Ack()
			continue
		}
		h.broadcast <- &env
		msg.Ack()
	}
}

// replay queues historical log entries for a freshly connected observer.
// Entries carry their log sequence number so a client that reconnects can
// drop anything it has already seen.
func (h *Hub) replay(c *client) {
	if c.taskID == "" || c.replay <= 0 {
		return
	}
	entries, err := h.logs.Tail(c.taskID, c.replay)
	if err != nil {
		h.logger.Warn("failed to replay task log", "task_id", c.taskID, "error", err)
		return
	}
	for _, entry := range entries {
		env, err := event.NewEnvelope(c.taskID, event.FromLogEntry(entry))
		if err != nil {
			continue
		}
		if !c.trySend(env) {
			return
		}
	}
}
