package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/taskdock/taskdock/pkg/cerr"
)

type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Data: data}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps the error's code onto an HTTP status. Details carries
// structured context such as merge conflict listings.
func writeError(w http.ResponseWriter, err error, details ...any) {
	code := cerr.CodeOf(err)
	body := &errorBody{
		Code:    code.String(),
		Message: cerr.MessageOf(err),
	}
	if len(details) > 0 {
		body.Details = details[0]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	if encErr := json.NewEncoder(w).Encode(envelope{Error: body}); encErr != nil {
		slog.Error("failed to encode error response", "error", encErr)
	}
}

func writeErrorStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorBody{
		Code:    http.StatusText(status),
		Message: message,
	}})
}

// decodeBody reads a JSON request body into dst. An empty body is allowed
// when dst fields are all optional; callers validate afterwards.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return cerr.New(cerr.InvalidArgument, "invalid request body", err)
	}
	return nil
}
