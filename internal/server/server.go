// Package server exposes the REST and websocket surface of the daemon.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/config"
	"github.com/taskdock/taskdock/internal/coordinator"
	"github.com/taskdock/taskdock/internal/hub"
	"github.com/taskdock/taskdock/internal/pushnote"
	"github.com/taskdock/taskdock/internal/task"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/internal/workspace"
	"github.com/taskdock/taskdock/pkg/clog"
)

type Server struct {
	server *http.Server
	env    *config.Env

	tasks      *task.Service
	agents     *agent.Service
	coord      *coordinator.Coordinator
	workspaces *workspace.Manager
	logs       *tasklog.Store
	hub        *hub.Hub
	push       *pushnote.Sender
}

func New(
	env *config.Env,
	tasks *task.Service,
	agents *agent.Service,
	coord *coordinator.Coordinator,
	workspaces *workspace.Manager,
	logs *tasklog.Store,
	eventHub *hub.Hub,
	push *pushnote.Sender,
) *Server {
	return &Server{
		env:        env,
		tasks:      tasks,
		agents:     agents,
		coord:      coord,
		workspaces: workspaces,
		logs:       logs,
		hub:        eventHub,
		push:       push,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(clog.RequestLogger())

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.hub.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleTaskList)
			r.Post("/", s.handleTaskCreate)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleTaskGet)
				r.Patch("/", s.handleTaskUpdate)
				r.Delete("/", s.handleTaskDelete)
				r.Post("/run", s.handleTaskRun)
				r.Post("/stop", s.handleTaskStop)
				r.Post("/resume", s.handleTaskResume)
				r.Post("/assign", s.handleTaskAssign)
				r.Post("/finish", s.handleTaskFinish)
				r.Get("/terminal", s.handleTaskTerminal)
				r.Get("/diff", s.handleTaskDiff)
				r.Post("/merge", s.handleTaskMerge)
				r.Post("/discard", s.handleTaskDiscard)
			})
		})
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleAgentList)
			r.Post("/", s.handleAgentCreate)
			r.Get("/{agentID}", s.handleAgentGet)
			r.Patch("/{agentID}", s.handleAgentUpdate)
			r.Delete("/{agentID}", s.handleAgentDelete)
		})
		r.Get("/worktrees", s.handleWorktreeList)
		r.Route("/push", func(r chi.Router) {
			r.Get("/vapid-key", s.handlePushVAPIDKey)
			r.Post("/subscriptions", s.handlePushSubscribe)
			r.Delete("/subscriptions", s.handlePushUnsubscribe)
		})
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeErrorStatus(w, http.StatusNotFound, "not found")
		})
	})
	return r
}

// ListenAndServe starts the HTTP server. The provided context is the base
// context for all requests, so cancelling it tears down websocket streams
// and lets Shutdown return promptly.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.Router())

	s.server = &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.coord.Active(),
	})
}
