package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		retryable bool
		fatal     bool
	}{
		{name: "destination write", err: ErrDestinationWrite, retryable: true, fatal: false},
		{name: "fatal validation", err: ErrFatalValidation, retryable: false, fatal: true},
		{name: "decode", err: ErrDecode, retryable: false, fatal: false},
		{name: "lookup", err: ErrLookup, retryable: true, fatal: false},
		{name: "validation", err: ErrValidation, retryable: false, fatal: true},
		{name: "forced fatal", err: ErrLookup.AsFatal(), retryable: false, fatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
			assert.Equal(t, tt.fatal, tt.err.IsFatal())
		})
	}
}

func TestError_WithCauseKeepsSentinelIdentity(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := ErrDestinationWrite.WithCause(cause).WithDetail("destination", "primary")

	assert.True(t, stderrors.Is(err, ErrDestinationWrite))
	assert.True(t, stderrors.Is(err, cause))
	assert.False(t, stderrors.Is(err, ErrQueueFull))
	assert.True(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "DESTINATION_WRITE")
	assert.Contains(t, err.Error(), "connection refused")

	assert.Empty(t, ErrDestinationWrite.Details, "sentinel details must not be mutated")
}

func TestIsHelpers(t *testing.T) {
	wrapped := fmt.Errorf("enqueue: %w", ErrQueueFull)
	assert.True(t, IsQueueFull(wrapped))
	assert.False(t, IsDisabled(wrapped))
	assert.True(t, IsNotFound(ErrNotFound.WithMessage("destination missing")))
	assert.True(t, IsFatalValidation(ErrFatalValidation.WithCause(fmt.Errorf("empty"))))
	assert.False(t, IsValidation(nil))
}

func TestToHTTPStatusAndResponse(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(fmt.Errorf("plain")))

	resp := ToErrorResponse(ErrNotFound.WithMessage("destination \"x\" not found").WithDetail("name", "x"))
	assert.Equal(t, "NOT_FOUND", resp["error_code"])
	assert.Equal(t, "destination \"x\" not found", resp["error"])
	assert.Equal(t, map[string]interface{}{"name": "x"}, resp["details"])

	resp = ToErrorResponse(fmt.Errorf("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	var got error
	err := RecoverPanicWithCallback("worker exploded", func(e error) { got = e })
	require.Error(t, err)
	assert.Equal(t, err, got)

	var appErr *Error
	require.True(t, stderrors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, true, appErr.Details["panic"])
	assert.Contains(t, appErr.Error(), "worker exploded")
}
