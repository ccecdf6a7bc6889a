package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taskdock/taskdock/internal/coordinator"
	"github.com/taskdock/taskdock/internal/task"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/pkg/shellfmt"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]*task.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.Status == task.Status(status) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req task.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.tasks.Create(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var req task.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ID = chi.URLParam(r, "taskID")
	t, err := s.tasks.Update(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	t, err := s.coord.Run(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	mode := coordinator.StopMode(req.Mode)
	if req.Mode == "" {
		mode = coordinator.StopPause
	}
	t, err := s.coord.Stop(r.Context(), chi.URLParam(r, "taskID"), mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskResume(w http.ResponseWriter, r *http.Request) {
	t, err := s.coord.Resume(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.coord.Assign(r.Context(), chi.URLParam(r, "taskID"), req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskFinish(w http.ResponseWriter, r *http.Request) {
	t, err := s.coord.Finish(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// TerminalView is the terminal-read payload: the raw log tail as it would
// have appeared on screen plus the structured entries behind it, which late
// observers use to replay missed output.
type TerminalView struct {
	Exists   bool             `json:"exists"`
	Path     string           `json:"path"`
	Text     string           `json:"text"`
	TaskLogs []*tasklog.Entry `json:"task_logs"`
}

func (s *Server) handleTaskTerminal(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.tasks.Get(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}

	lines := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			lines = n
		}
	}
	text, err := s.logs.TailText(taskID, lines)
	if err != nil {
		writeError(w, err)
		return
	}
	if pretty, _ := strconv.ParseBool(r.URL.Query().Get("pretty")); pretty {
		out := strings.Split(text, "\n")
		for i, line := range out {
			out[i] = shellfmt.PrettyLine(line)
		}
		text = strings.Join(out, "\n")
	}
	entries, err := s.logs.Tail(taskID, lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &TerminalView{
		Exists:   s.logs.Exists(taskID),
		Path:     s.logs.Path(taskID),
		Text:     text,
		TaskLogs: entries,
	})
}

func (s *Server) handleTaskDiff(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.tasks.Get(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	diff, err := s.workspaces.Diff(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleTaskMerge(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	t, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.coord.IsActive(taskID) {
		writeError(w, taskBusyErr(taskID))
		return
	}
	result, err := s.workspaces.Merge(r.Context(), taskID)
	if err != nil {
		if result != nil && len(result.Conflicts) > 0 {
			writeError(w, err, result)
			return
		}
		writeError(w, err)
		return
	}
	// A clean merge is how a reviewed task completes.
	if t.Status == task.StatusReview {
		if _, err := s.coord.Finish(r.Context(), taskID); err != nil {
			writeError(w, err, result)
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTaskDiscard(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.tasks.Get(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	if s.coord.IsActive(taskID) {
		writeError(w, taskBusyErr(taskID))
		return
	}
	if err := s.workspaces.Discard(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleWorktreeList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.workspaces.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}
