// Package daemon wires the whole system together and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/config"
	"github.com/taskdock/taskdock/internal/coordinator"
	"github.com/taskdock/taskdock/internal/event"
	"github.com/taskdock/taskdock/internal/executor"
	"github.com/taskdock/taskdock/internal/hub"
	"github.com/taskdock/taskdock/internal/pushnote"
	"github.com/taskdock/taskdock/internal/server"
	"github.com/taskdock/taskdock/internal/task"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/internal/workspace"
	"github.com/taskdock/taskdock/pkg/clog"
	"github.com/taskdock/taskdock/pkg/panicerr"
	"github.com/taskdock/taskdock/pkg/storage"
)

type Daemon struct {
	env    *config.Env
	logger *slog.Logger

	bus    *event.Bus
	coord  *coordinator.Coordinator
	hub    *hub.Hub
	server *server.Server
}

// New builds the daemon from environment configuration.
func New(ctx context.Context, env *config.Env) (*Daemon, error) {
	logger := slog.New(clog.NewTextHandler(os.Stderr, clog.WithLevel(env.SlogLevel())))
	slog.SetDefault(logger)

	store, err := newStore(ctx, env)
	if err != nil {
		return nil, err
	}
	logs, err := tasklog.NewStore(env.LogsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open task log store: %w", err)
	}
	bus, err := event.NewBus(logger)
	if err != nil {
		return nil, err
	}

	taskRepo := task.NewYAMLRepository(store)
	tasks := task.NewService(taskRepo)
	agents := agent.NewService(agent.NewYAMLRepository(store))
	workspaces := workspace.NewManager(workspace.NewYAMLRepository(store), logger)

	registry, err := executor.NewRegistry(env.ExecEnv, logger)
	if err != nil {
		return nil, err
	}

	coord := coordinator.New(taskRepo, agents, workspaces, registry, logs, bus, logger)
	eventHub := hub.New(bus, logs, logger)

	pushSender := pushnote.NewSender(env.PushEnv, pushnote.NewYAMLRepository(store), logger)
	// Handlers must be attached before the bus router starts.
	pushnote.NewDispatcher(pushSender, taskRepo, logger).Attach(bus)

	srv := server.New(env, tasks, agents, coord, workspaces, logs, eventHub, pushSender)

	return &Daemon{
		env:    env,
		logger: logger,
		bus:    bus,
		coord:  coord,
		hub:    eventHub,
		server: srv,
	}, nil
}

func newStore(ctx context.Context, env *config.Env) (storage.Store, error) {
	switch env.Type {
	case "", "local":
		return storage.NewLocal(env.BaseDir)
	case "s3":
		return storage.NewS3(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage type %q", env.Type)
	}
}

// Run starts everything and blocks until ctx is cancelled, then shuts the
// pieces down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Tasks left in_progress by a crash must settle before requests land.
	if err := d.coord.Recover(runCtx); err != nil {
		return err
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		err := panicerr.SafeContext(d.bus.Start)(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("event bus stopped", "error", err)
		}
	})
	<-d.bus.Running()

	wg.Go(func() {
		err := panicerr.SafeContext(d.hub.Run)(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("event hub stopped", "error", err)
		}
	})

	serverErr := make(chan error, 1)
	wg.Go(func() {
		d.logger.Info("daemon started", "host", d.env.HTTPHost, "port", d.env.HTTPPort)
		err := panicerr.SafeContext(d.server.ListenAndServe)(runCtx)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	})

	var runErr error
	select {
	case <-runCtx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = err
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("server shutdown incomplete", "error", err)
	}
	d.coord.Close()
	if err := d.bus.Close(); err != nil {
		d.logger.Warn("event bus close failed", "error", err)
	}
	cancel()
	wg.Wait()

	d.logger.Info("daemon stopped")
	return runErr
}
