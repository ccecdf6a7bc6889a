package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taskdock/taskdock/pkg/cerr"
	"github.com/taskdock/taskdock/pkg/storage"
)

const agentsKey = "agents.yaml"

// YAMLRepository persists agents as one YAML document in the record store.
// The mutex serializes the load-modify-save cycle: concurrent mutations
// would otherwise overwrite each other's view of the document.
type YAMLRepository struct {
	mu    sync.RWMutex
	store storage.Store
}

func NewYAMLRepository(store storage.Store) *YAMLRepository {
	return &YAMLRepository{store: store}
}

type agentFile struct {
	Agents []*Agent `yaml:"agents"`
}

func (r *YAMLRepository) load(ctx context.Context) (*agentFile, error) {
	data, err := r.store.Load(ctx, agentsKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return &agentFile{}, nil
		}
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	var file agentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agents: %w", err)
	}
	return &file, nil
}

func (r *YAMLRepository) save(ctx context.Context, file *agentFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal agents: %w", err)
	}
	if err := r.store.Save(ctx, agentsKey, data); err != nil {
		return fmt.Errorf("failed to save agents: %w", err)
	}
	return nil
}

func (r *YAMLRepository) Create(ctx context.Context, a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	file.Agents = append(file.Agents, a)
	return r.save(ctx, file)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range file.Agents {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, cerr.Newf(cerr.NotFound, "agent %s not found", id)
}

func (r *YAMLRepository) List(ctx context.Context) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return file.Agents, nil
}

func (r *YAMLRepository) Update(ctx context.Context, a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	for i, existing := range file.Agents {
		if existing.ID == a.ID {
			file.Agents[i] = a
			return r.save(ctx, file)
		}
	}
	return cerr.Newf(cerr.NotFound, "agent %s not found", a.ID)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	for i, a := range file.Agents {
		if a.ID == id {
			file.Agents = append(file.Agents[:i], file.Agents[i+1:]...)
			return r.save(ctx, file)
		}
	}
	return cerr.Newf(cerr.NotFound, "agent %s not found", id)
}
