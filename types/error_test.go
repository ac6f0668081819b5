package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrQueueUnavailable, "redis down").WithCause(cause)

	assert.Contains(t, err.Error(), "QUEUE_UNAVAILABLE")
	assert.Contains(t, err.Error(), "redis down")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestErrorf(t *testing.T) {
	err := Errorf(ErrInvalidRequest, "task must be %q", "transcribe")
	assert.Equal(t, ErrInvalidRequest, err.Code)
	assert.Equal(t, `task must be "transcribe"`, err.Message)
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil, ErrInternalError))

	structured := NewError(ErrGateTimeout, "late")
	assert.Same(t, structured, AsError(structured, ErrInternalError))

	plain := errors.New("oops")
	wrapped := AsError(plain, ErrExecutionFailed)
	require.NotNil(t, wrapped)
	assert.Equal(t, ErrExecutionFailed, wrapped.Code)
	assert.ErrorIs(t, wrapped, plain)
}

func TestRetryableAndCode(t *testing.T) {
	err := NewError(ErrFetchFailed, "timeout").WithRetryable(true).WithHTTPStatus(502)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrFetchFailed, GetErrorCode(err))
	assert.Equal(t, 502, err.HTTPStatus)

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}
