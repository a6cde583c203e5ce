package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/registry"
)

var (
	ErrInvalidTrigger   = errors.New("trigger step cannot start")
	ErrNoSnapshot       = errors.New("workflow snapshot is missing")
	ErrRunNotSuspended  = errors.New("run is not suspended")
	ErrNoPendingWait    = errors.New("step is not waiting")
	ErrWrongWaitReason  = errors.New("step is not waiting for this signal")
	ErrApprovalRejected = errors.New("approval rejected")
	// ErrRunClaimed means another process resumed the run first.
	ErrRunClaimed = errors.New("run was resumed elsewhere")
)

// StepExecutionError records a failed step. It halts the steps downstream
// of StepID only.
type StepExecutionError struct {
	StepID     string
	ActionType string
	Err        error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.StepID, e.ActionType, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError is raised when an approval is not decided before its deadline.
type TimeoutError struct {
	StepID   string
	Deadline time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %s: approval timed out at %s", e.StepID, e.Deadline.Format(time.RFC3339))
}

func IsTimeoutError(err error) bool {
	var target *TimeoutError

	return errors.As(err, &target)
}

func IsStepExecutionError(err error) bool {
	var target *StepExecutionError

	return errors.As(err, &target)
}

func errorKind(err error) models.ErrorKind {
	switch {
	case IsTimeoutError(err):
		return models.ErrorKindTimeout
	case errors.Is(err, ErrApprovalRejected):
		return models.ErrorKindRejected
	case registry.IsIntegrationError(err):
		return models.ErrorKindIntegration
	default:
		return models.ErrorKindStepExecution
	}
}
