// Package pushnote delivers web push notifications when a task needs a
// human: a run finishing into review, or parking in pending.
package pushnote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskdock/taskdock/pkg/storage"
)

type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key" json:"auth_key"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	List(ctx context.Context) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
	FindByEndpoint(ctx context.Context, endpoint string) (*Subscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

var ErrSubscriptionNotFound = errors.New("push subscription not found")

const subscriptionsKey = "push_subscriptions.yaml"

type subscriptionsFile struct {
	Subscriptions []*Subscription `yaml:"subscriptions"`
}

// YAMLRepository stores subscriptions as one YAML document.
type YAMLRepository struct {
	store storage.Store
	mu    sync.RWMutex
}

func NewYAMLRepository(store storage.Store) *YAMLRepository {
	return &YAMLRepository{store: store}
}

func (r *YAMLRepository) Create(ctx context.Context, s *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	for i, existing := range file.Subscriptions {
		if existing.Endpoint == s.Endpoint {
			file.Subscriptions[i] = s
			return r.save(ctx, file)
		}
	}
	file.Subscriptions = append(file.Subscriptions, s)
	return r.save(ctx, file)
}

func (r *YAMLRepository) List(ctx context.Context) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return file.Subscriptions, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	return r.deleteBy(ctx, func(s *Subscription) bool { return s.ID == id })
}

func (r *YAMLRepository) FindByEndpoint(ctx context.Context, endpoint string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range file.Subscriptions {
		if s.Endpoint == endpoint {
			return s, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *YAMLRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	return r.deleteBy(ctx, func(s *Subscription) bool { return s.Endpoint == endpoint })
}

func (r *YAMLRepository) deleteBy(ctx context.Context, match func(*Subscription) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	kept := file.Subscriptions[:0]
	for _, s := range file.Subscriptions {
		if !match(s) {
			kept = append(kept, s)
		}
	}
	file.Subscriptions = kept
	return r.save(ctx, file)
}

func (r *YAMLRepository) load(ctx context.Context) (*subscriptionsFile, error) {
	data, err := r.store.Load(ctx, subscriptionsKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return &subscriptionsFile{}, nil
		}
		return nil, fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	var file subscriptionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse push subscriptions: %w", err)
	}
	return &file, nil
}

func (r *YAMLRepository) save(ctx context.Context, file *subscriptionsFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal push subscriptions: %w", err)
	}
	if err := r.store.Save(ctx, subscriptionsKey, data); err != nil {
		return fmt.Errorf("failed to save push subscriptions: %w", err)
	}
	return nil
}
