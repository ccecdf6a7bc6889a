// Package cerr provides coded errors for the API surface. Every failure a
// caller can act on carries a Code; handlers map codes to HTTP statuses and
// the human-readable Msg goes into the response body.
package cerr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code int

const (
	OK Code = iota
	Canceled
	Unknown
	InvalidArgument
	NotFound
	TaskBusy
	WorkspaceUnavailable
	ProviderUnavailable
	ExecutionFailed
	MergeConflict
	FailedPrecondition
	Internal
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Canceled:
		return "canceled"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case TaskBusy:
		return "task_busy"
	case WorkspaceUnavailable:
		return "workspace_unavailable"
	case ProviderUnavailable:
		return "provider_unavailable"
	case ExecutionFailed:
		return "execution_failed"
	case MergeConflict:
		return "merge_conflict"
	case FailedPrecondition:
		return "failed_precondition"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a code to the status the REST layer responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case OK:
		return http.StatusOK
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case TaskBusy, MergeConflict:
		return http.StatusConflict
	case WorkspaceUnavailable, ProviderUnavailable, FailedPrecondition:
		return http.StatusUnprocessableEntity
	case Canceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded error. Msg is returned to the caller together with the
// code; Err holds the underlying cause for logs only.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func New(code Code, msg string, underlying error) *Error {
	return &Error{Code: code, Msg: msg, Err: underlying}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the code from err, or Internal for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return Internal
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Msg
	}
	return err.Error()
}
