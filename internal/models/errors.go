package models

import (
	"errors"
	"fmt"
)

// ErrNoEligibleWorker is the soft "none available" result of assignment.
// Callers treat it as a nil worker, not a failure.
var ErrNoEligibleWorker = errors.New("no eligible worker available")

// ValidationError reports malformed input at creation or update time
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a job, worker or proxy id that does not exist
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// InvalidTransitionError reports an attempted status change that the state machine forbids
type InvalidTransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition from %s to %s", e.From, e.To)
}

// ConflictError reports an operation that is valid in general but not in the current state,
// such as deregistering a worker that still has running jobs
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// UnknownWorkerError reports a heartbeat or job pull from an unregistered worker id.
// The worker is expected to re-register.
type UnknownWorkerError struct {
	WorkerID string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("unknown worker: %s", e.WorkerID)
}

// UpstreamGenerationError wraps a failure of an LLM or other generator upstream.
// It is always absorbed by a deterministic fallback and never fails a job.
type UpstreamGenerationError struct {
	Provider string
	Err      error
}

func (e *UpstreamGenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *UpstreamGenerationError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
