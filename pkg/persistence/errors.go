package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrRunNotFound      = errors.New("execution run not found")
	ErrRecordNotFound   = errors.New("record not found")
	// ErrRunConflict is returned by RunRepository.Save when the stored run
	// has a different revision than the one being written.
	ErrRunConflict = errors.New("execution run was modified concurrently")
	// ErrInvalidID is returned for empty ids or ids unsafe to use as a path.
	ErrInvalidID = errors.New("invalid identifier")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// RunError wraps run and trace errors.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// RecordError wraps errors on virtual-table rows.
type RecordError struct {
	Op       string
	TableID  string
	RecordID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for record %s in table %s: %v", e.Op, e.RecordID, e.TableID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

func IsRunConflict(err error) bool {
	return errors.Is(err, ErrRunConflict)
}

func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
