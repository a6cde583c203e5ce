// Package services implements the workflow authoring and execution use
// cases on top of persistence, the graph validator, the trigger index and
// the engine.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowbase/pkg/engine"
	"github.com/dukex/flowbase/pkg/graph"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name must have at least 3 characters")
	ErrTriggerStepRequired  = errors.New("workflow has no trigger step")
	ErrInvalidEvent         = errors.New("invalid event")

	// Business Logic Conflicts (409 Conflict).
	ErrRunNotWaiting    = errors.New("run is not waiting for this decision")
	ErrApprovalExpired  = errors.New("approval expired before the decision")
	ErrWorkflowInactive = errors.New("workflow is not active")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
// Graph validation failures count as well.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrTriggerStepRequired) ||
		errors.Is(err, ErrInvalidEvent) ||
		graph.IsValidationError(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRunNotWaiting) ||
		errors.Is(err, ErrApprovalExpired) ||
		errors.Is(err, ErrWorkflowInactive)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// resumeError maps engine signal errors onto service errors.
func resumeError(op string, err error) error {
	switch {
	case errors.Is(err, engine.ErrRunNotSuspended),
		errors.Is(err, engine.ErrNoPendingWait),
		errors.Is(err, engine.ErrWrongWaitReason),
		errors.Is(err, engine.ErrRunClaimed):
		return &ServiceError{Op: op, Code: "RUN_NOT_WAITING", Message: err.Error(), Err: ErrRunNotWaiting}
	case engine.IsTimeoutError(err):
		return &ServiceError{Op: op, Code: "APPROVAL_EXPIRED", Message: err.Error(), Err: ErrApprovalExpired}
	default:
		return err
	}
}
