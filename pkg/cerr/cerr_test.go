package cerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"coded", Newf(TaskBusy, "task TASK-1 already running"), TaskBusy},
		{"wrapped", fmt.Errorf("run: %w", Newf(NotFound, "no such task")), NotFound},
		{"uncoded", errors.New("boom"), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, TaskBusy.HTTPStatus())
	assert.Equal(t, http.StatusConflict, MergeConflict.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, NotFound.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, ProviderUnavailable.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Internal.HTTPStatus())
}

func TestErrorFormatting(t *testing.T) {
	err := New(WorkspaceUnavailable, "failed to add worktree", errors.New("exit status 128"))
	assert.Equal(t, "[workspace_unavailable] failed to add worktree: exit status 128", err.Error())
	assert.Equal(t, "failed to add worktree", MessageOf(err))
}
