package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
)

// Bus is an in-process event bus backed by watermill's gochannel pub/sub.
// One topic per event type; subscribers registered before Start receive
// every event published after the router is running.
type Bus struct {
	pubSub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
}

// NewBus creates the bus. Call Start to begin routing.
func NewBus(logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wmLogger := watermill.NewSlogLogger(logger)
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, wmLogger)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event router: %w", err)
	}
	return &Bus{
		pubSub: pubSub,
		router: router,
		logger: wmLogger,
	}, nil
}

// Publish wraps the payload in an envelope and publishes it to the topic
// named by its event type.
func (b *Bus) Publish(ctx context.Context, taskID string, payload Payload) error {
	env, err := NewEnvelope(taskID, payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode event envelope: %w", err)
	}
	msg := message.NewMessage(env.ID, raw)
	msg.SetContext(ctx)
	if err := b.pubSub.Publish(string(env.Type), msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", env.Type, err)
	}
	return nil
}

// Handle registers a handler for one event type. Must be called before Start.
func (b *Bus) Handle(eventType Type, handler func(ctx context.Context, env *Envelope) error) {
	name := fmt.Sprintf("%s_%s", eventType, ulid.Make().String())
	b.router.AddNoPublisherHandler(name, string(eventType), b.pubSub, func(msg *message.Message) error {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			return fmt.Errorf("failed to decode event envelope: %w", err)
		}
		return handler(msg.Context(), &env)
	})
}

// Subscribe returns a raw message channel for one event type. The caller
// owns the channel lifecycle through ctx and must Ack consumed messages.
func (b *Bus) Subscribe(ctx context.Context, eventType Type) (<-chan *message.Message, error) {
	ch, err := b.pubSub.Subscribe(ctx, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}
	return ch, nil
}

// Start runs the router until ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once the router has started all handlers.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close shuts down the router and the underlying pub/sub.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("failed to close event router: %w", err)
	}
	if err := b.pubSub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return nil
}
