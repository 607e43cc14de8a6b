package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "context canceled",
			err:      context.Canceled,
			expected: ErrorCodeContextCanceled,
		},
		{
			name:     "context deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: ErrorCodeContextCanceled,
		},
		{
			name:     "existing SchedError",
			err:      NewSchedError(ErrorCodeStorage, "disk error"),
			expected: ErrorCodeStorage,
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("unknown error"),
			expected: ErrorCodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := WrapError(tt.err)

			if tt.err == nil {
				assert.Nil(t, result)
				return
			}

			if assert.NotNil(t, result) {
				assert.Equal(t, tt.expected, result.Code)
			}
		})
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("job-123")

	assert.Equal(t, ErrorCodeNotFound, err.Code)
	assert.Equal(t, "job-123", err.JobID)
	assert.Contains(t, err.Message, "job-123")
}

func TestNewIllegalTransitionError(t *testing.T) {
	err := NewIllegalTransitionError("job-123", "COMPLETED", "RUNNING")

	assert.Equal(t, ErrorCodeIllegalTransition, err.Code)
	assert.Equal(t, "COMPLETED", err.FromState)
	assert.Equal(t, "RUNNING", err.ToState)
	assert.Contains(t, err.Message, "job-123")
}

func TestNewStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("insert_job", cause)

	assert.Equal(t, ErrorCodeStorage, err.Code)
	assert.True(t, err.IsRetryable())
	assert.Equal(t, cause, err.Cause)
}

func TestNewExecutionError(t *testing.T) {
	cause := errors.New("exec: no such file")
	err := NewExecutionError("job-456", cause)

	assert.Equal(t, ErrorCodeExecution, err.Code)
	assert.Equal(t, "job-456", err.JobID)
	assert.Equal(t, cause, err.Cause)
}

func TestNewValidationErrorFormatted(t *testing.T) {
	err := NewValidationError("name", "", "field %s cannot be empty", "name")

	assert.Equal(t, ErrorCodeValidationFailed, err.Code)
	assert.Equal(t, "field name cannot be empty", err.Message)
	assert.Equal(t, "name", err.Field)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("job-1")))
	assert.False(t, IsNotFound(NewStorageError("op", errors.New("x"))))
	assert.False(t, IsNotFound(errors.New("regular error")))
}

func TestIsIllegalTransition(t *testing.T) {
	assert.True(t, IsIllegalTransition(NewIllegalTransitionError("job-1", "A", "B")))
	assert.False(t, IsIllegalTransition(NewNotFoundError("job-1")))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "retryable SchedError",
			err:       NewSchedError(ErrorCodeStorage, "busy"),
			retryable: true,
		},
		{
			name:      "non-retryable SchedError",
			err:       NewSchedError(ErrorCodeNotFound, "missing"),
			retryable: false,
		},
		{
			name:      "database is locked string error",
			err:       fmt.Errorf("database is locked"),
			retryable: true,
		},
		{
			name:      "non-retryable string error",
			err:       fmt.Errorf("invalid input"),
			retryable: false,
		},
		{
			name:      "nil error",
			err:       nil,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.retryable {
				t.Errorf("IsRetryableError() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{
			name:     "SchedError",
			err:      NewSchedError(ErrorCodeStorage, "disk error"),
			expected: ErrorCodeStorage,
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("regular error"),
			expected: ErrorCodeUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: ErrorCodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetErrorCategoryFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{
			name:     "SchedError",
			err:      NewSchedError(ErrorCodeStorage, "disk error"),
			expected: CategoryStorage,
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("regular error"),
			expected: CategoryUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCategory(tt.err); got != tt.expected {
				t.Errorf("GetErrorCategory() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "validation error",
			err:      NewValidationError("field", "value", "invalid"),
			expected: true,
		},
		{
			name:     "sched validation error",
			err:      NewSchedError(ErrorCodeValidationFailed, "validation failed"),
			expected: true,
		},
		{
			name:     "non-validation error",
			err:      NewSchedError(ErrorCodeStorage, "storage error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("some error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidationError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
