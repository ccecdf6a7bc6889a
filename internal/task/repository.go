package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taskdock/taskdock/pkg/cerr"
	"github.com/taskdock/taskdock/pkg/storage"
)

const tasksKey = "tasks.yaml"

// YAMLRepository persists tasks as one YAML document in the record store.
// The mutex serializes the load-modify-save cycle: concurrent mutations
// would otherwise overwrite each other's view of the document.
type YAMLRepository struct {
	mu    sync.RWMutex
	store storage.Store
}

func NewYAMLRepository(store storage.Store) *YAMLRepository {
	return &YAMLRepository{store: store}
}

type taskFile struct {
	Tasks []*Task `yaml:"tasks"`
}

func (r *YAMLRepository) load(ctx context.Context) (*taskFile, error) {
	data, err := r.store.Load(ctx, tasksKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return &taskFile{}, nil
		}
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}
	return &file, nil
}

func (r *YAMLRepository) save(ctx context.Context, file *taskFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}
	if err := r.store.Save(ctx, tasksKey, data); err != nil {
		return fmt.Errorf("failed to save tasks: %w", err)
	}
	return nil
}

func (r *YAMLRepository) Create(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	file.Tasks = append(file.Tasks, t)
	return r.save(ctx, file)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range file.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, cerr.Newf(cerr.NotFound, "task %s not found", id)
}

func (r *YAMLRepository) List(ctx context.Context) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return file.Tasks, nil
}

func (r *YAMLRepository) Update(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	for i, existing := range file.Tasks {
		if existing.ID == t.ID {
			file.Tasks[i] = t
			return r.save(ctx, file)
		}
	}
	return cerr.Newf(cerr.NotFound, "task %s not found", t.ID)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load(ctx)
	if err != nil {
		return err
	}
	for i, t := range file.Tasks {
		if t.ID == id {
			file.Tasks = append(file.Tasks[:i], file.Tasks[i+1:]...)
			return r.save(ctx, file)
		}
	}
	return cerr.Newf(cerr.NotFound, "task %s not found", id)
}
