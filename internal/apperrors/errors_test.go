package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NewNotFoundError("job j1 not found"), http.StatusNotFound},
		{"wrapped forbidden", fmt.Errorf("start run: %w", NewForbiddenError("nope")), http.StatusForbidden},
		{"invalid state", NewInvalidStateError("job paused"), http.StatusConflict},
		{"active run", &ActiveRunConflictError{JobID: "j1", ActiveRunID: "r1"}, http.StatusConflict},
		{"cycle", NewCycleError("cycle"), http.StatusConflict},
		{"policy", NewPolicyViolationError("too many children"), http.StatusUnprocessableEntity},
		{"validation", NewValidationFailedError("bad"), http.StatusBadRequest},
		{"app error", NewAppError(http.StatusServiceUnavailable, "db down", errors.New("dial")), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestActiveRunConflictError(t *testing.T) {
	err := fmt.Errorf("start: %w", &ActiveRunConflictError{JobID: "job-1", ActiveRunID: "run-1"})

	assert.ErrorIs(t, err, ErrConflict)
	runID, ok := ActiveRunID(err)
	assert.True(t, ok)
	assert.Equal(t, "run-1", runID)

	_, ok = ActiveRunID(NewConflictError("other"))
	assert.False(t, ok)
}

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(500, "failed to save run", errors.New("connection reset"))
	assert.Equal(t, "failed to save run: connection reset", err.Error())
	assert.Equal(t, "job missing", (&AppError{Message: "job missing"}).Error())
}
