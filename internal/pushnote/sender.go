package pushnote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/oklog/ulid/v2"

	"github.com/taskdock/taskdock/internal/config"
)

type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Sender pushes payloads to every registered subscription. Expired
// subscriptions are removed as they are discovered.
type Sender struct {
	env    config.PushEnv
	repo   Repository
	logger *slog.Logger
}

func NewSender(env config.PushEnv, repo Repository, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{env: env, repo: repo, logger: logger}
}

// Enabled reports whether VAPID keys are configured.
func (s *Sender) Enabled() bool {
	return s.env.VAPIDPublicKey != "" && s.env.VAPIDPrivateKey != ""
}

// VAPIDPublicKey is handed to browsers when they subscribe.
func (s *Sender) VAPIDPublicKey() string {
	return s.env.VAPIDPublicKey
}

// Subscribe registers a browser push subscription.
func (s *Sender) Subscribe(ctx context.Context, endpoint, p256dh, auth string) (*Subscription, error) {
	sub := &Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  endpoint,
		P256dhKey: p256dh,
		AuthKey:   auth,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes the subscription for an endpoint.
func (s *Sender) Unsubscribe(ctx context.Context, endpoint string) error {
	return s.repo.DeleteByEndpoint(ctx, endpoint)
}

func (s *Sender) SendToAll(ctx context.Context, payload *Payload) {
	if !s.Enabled() {
		return
	}
	subs, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("push: failed to list subscriptions", "error", err)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("push: failed to marshal payload", "error", err)
		return
	}
	for _, sub := range subs {
		s.send(ctx, sub, data)
	}
}

func (s *Sender) send(ctx context.Context, sub *Subscription, data []byte) {
	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.env.VAPIDPublicKey,
		VAPIDPrivateKey: s.env.VAPIDPrivateKey,
		Subscriber:      s.env.VAPIDSubject,
		TTL:             86400,
	})
	if err != nil {
		s.logger.Error("push: failed to send", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		s.logger.Info("push: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			s.logger.Error("push: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("push: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
