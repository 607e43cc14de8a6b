// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// WrapError converts a generic error into a structured SchedError.
func WrapError(err error) *SchedError {
	if err == nil {
		return nil
	}

	var schedErr *SchedError
	if stderrors.As(err, &schedErr) {
		return schedErr
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return NewSchedErrorWithCause(ErrorCodeContextCanceled, "operation was canceled", err)
	}

	return NewSchedErrorWithCause(ErrorCodeUnknown, err.Error(), err)
}

// NewNotFoundError creates an error for a job ID absent from the store.
func NewNotFoundError(jobID string) *NotFoundError {
	err := NewSchedError(ErrorCodeNotFound, fmt.Sprintf("job %s not found", jobID))
	err.JobID = jobID
	return &NotFoundError{SchedError: err}
}

// NewIllegalTransitionError creates an error for a rejected state-machine
// transition, e.g. cancel on a terminal job or delete on a running job.
func NewIllegalTransitionError(jobID, fromState, toState string) *IllegalTransitionError {
	err := NewSchedError(ErrorCodeIllegalTransition,
		fmt.Sprintf("job %s cannot transition from %s to %s", jobID, fromState, toState))
	err.JobID = jobID
	return &IllegalTransitionError{
		SchedError: err,
		FromState:  fromState,
		ToState:    toState,
	}
}

// NewStorageError wraps a store-layer failure (I/O, constraint violation,
// driver error) as a SchedError.
func NewStorageError(operation string, cause error) *SchedError {
	return NewSchedErrorWithCause(ErrorCodeStorage,
		fmt.Sprintf("storage operation %q failed", operation), cause)
}

// NewExecutionError wraps a subprocess spawn or output-capture failure as
// a SchedError.
func NewExecutionError(jobID string, cause error) *SchedError {
	err := NewSchedErrorWithCause(ErrorCodeExecution,
		fmt.Sprintf("execution of job %s failed", jobID), cause)
	err.JobID = jobID
	return err
}

// NewValidationError creates a validation error for a rejected request field.
func NewValidationError(field string, value interface{}, format string, args ...interface{}) *ValidationError {
	message := fmt.Sprintf(format, args...)
	err := NewSchedError(ErrorCodeValidationFailed, message)
	return &ValidationError{
		SchedError: err,
		Field:      field,
		Value:      value,
	}
}

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return true
	}
	var se *SchedError
	if stderrors.As(err, &se) {
		return se.Code == ErrorCodeNotFound
	}
	return false
}

// IsIllegalTransition reports whether err is (or wraps) an illegal state
// transition error.
func IsIllegalTransition(err error) bool {
	var it *IllegalTransitionError
	if stderrors.As(err, &it) {
		return true
	}
	var se *SchedError
	if stderrors.As(err, &se) {
		return se.Code == ErrorCodeIllegalTransition
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var schedErr *SchedError
	if stderrors.As(err, &schedErr) {
		return schedErr.IsRetryable()
	}

	if err != nil {
		errStr := err.Error()
		return strings.Contains(errStr, "database is locked") ||
			strings.Contains(errStr, "busy")
	}

	return false
}

// GetErrorCode extracts the error code from any error.
func GetErrorCode(err error) ErrorCode {
	var schedErr *SchedError
	if stderrors.As(err, &schedErr) {
		return schedErr.Code
	}
	return ErrorCodeUnknown
}

// GetErrorCategory extracts the error category from any error.
func GetErrorCategory(err error) ErrorCategory {
	var schedErr *SchedError
	if stderrors.As(err, &schedErr) {
		return schedErr.Category
	}
	return CategoryUnknown
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var valErr *ValidationError
	if stderrors.As(err, &valErr) {
		return true
	}
	var schedErr *SchedError
	if stderrors.As(err, &schedErr) {
		return schedErr.Category == CategoryValidation
	}
	return false
}
