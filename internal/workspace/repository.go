package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taskdock/taskdock/pkg/storage"
)

const workspacesKey = "workspaces.yaml"

// ErrRecordNotFound is returned when no workspace record exists for a task.
var ErrRecordNotFound = errors.New("workspace record not found")

type workspacesFile struct {
	Workspaces []*Record `yaml:"workspaces"`
}

// YAMLRepository stores workspace records as a single YAML document.
type YAMLRepository struct {
	store storage.Store
	mu    sync.RWMutex
}

func NewYAMLRepository(store storage.Store) *YAMLRepository {
	return &YAMLRepository{store: store}
}

func (r *YAMLRepository) List(ctx context.Context) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return file.Workspaces, nil
}

func (r *YAMLRepository) Get(ctx context.Context, taskID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range file.Workspaces {
		if record.TaskID == taskID {
			return record, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r *YAMLRepository) Save(ctx context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range file.Workspaces {
		if existing.TaskID == record.TaskID {
			file.Workspaces[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		file.Workspaces = append(file.Workspaces, record)
	}
	return r.save(ctx, file)
}

func (r *YAMLRepository) Delete(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	kept := file.Workspaces[:0]
	for _, record := range file.Workspaces {
		if record.TaskID != taskID {
			kept = append(kept, record)
		}
	}
	file.Workspaces = kept
	return r.save(ctx, file)
}

func (r *YAMLRepository) load(ctx context.Context) (*workspacesFile, error) {
	data, err := r.store.Load(ctx, workspacesKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return &workspacesFile{}, nil
		}
		return nil, fmt.Errorf("failed to load workspaces: %w", err)
	}
	var file workspacesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workspaces: %w", err)
	}
	return &file, nil
}

func (r *YAMLRepository) save(ctx context.Context, file *workspacesFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal workspaces: %w", err)
	}
	if err := r.store.Save(ctx, workspacesKey, data); err != nil {
		return fmt.Errorf("failed to save workspaces: %w", err)
	}
	return nil
}
