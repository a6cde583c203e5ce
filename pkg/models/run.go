package models

import (
	"slices"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusWaiting   StepStatus = "waiting"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step will not change status again.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusSkipped
}

type ErrorKind string

const (
	ErrorKindStepExecution ErrorKind = "step_execution"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindIntegration   ErrorKind = "integration"
	ErrorKindRejected      ErrorKind = "rejected"
)

type StepState struct {
	Status     StepStatus `json:"status"`
	Branch     Branch     `json:"branch,omitempty"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type WaitReason string

const (
	WaitReasonDelay    WaitReason = "delay"
	WaitReasonApproval WaitReason = "approval"
)

// Wait records a suspended step. DueAt is the wake time for a delay and the
// timeout for an approval; a zero DueAt waits for an external signal only.
type Wait struct {
	StepID string         `json:"step_id"`
	Reason WaitReason     `json:"reason"`
	DueAt  time.Time      `json:"due_at,omitzero"`
	Detail map[string]any `json:"detail,omitempty"`
}

// ExecutionRun is one durable instance of a workflow reacting to one event.
type ExecutionRun struct {
	ID              string                `json:"id"`
	WorkflowID      string                `json:"workflow_id"`
	WorkflowVersion int                   `json:"workflow_version"`
	TriggerStepID   string                `json:"trigger_step_id"`
	Status          RunStatus             `json:"status"`
	Steps           map[string]*StepState `json:"steps"`
	Frontier        []string              `json:"frontier"`
	Context         map[string]any        `json:"context"`
	Snapshot        *Workflow             `json:"snapshot"`
	Waits           []Wait                `json:"waits,omitempty"`
	Error           string                `json:"error,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	// Revision counts saves. Stores only accept a save whose Revision
	// matches the stored one, then increment it.
	Revision int64 `json:"revision"`
}

func (r *ExecutionRun) WaitFor(stepID string) (Wait, bool) {
	idx := slices.IndexFunc(r.Waits, func(w Wait) bool { return w.StepID == stepID })
	if idx < 0 {
		return Wait{}, false
	}

	return r.Waits[idx], true
}

func (r *ExecutionRun) RemoveWait(stepID string) {
	r.Waits = slices.DeleteFunc(r.Waits, func(w Wait) bool { return w.StepID == stepID })
}

// DueWaits returns the waits whose DueAt has passed.
func (r *ExecutionRun) DueWaits(now time.Time) []Wait {
	due := make([]Wait, 0)

	for _, w := range r.Waits {
		if !w.DueAt.IsZero() && !w.DueAt.After(now) {
			due = append(due, w)
		}
	}

	return due
}

// NextDue returns the earliest pending wake time, if any.
func (r *ExecutionRun) NextDue() (time.Time, bool) {
	var next time.Time

	for _, w := range r.Waits {
		if w.DueAt.IsZero() {
			continue
		}

		if next.IsZero() || w.DueAt.Before(next) {
			next = w.DueAt
		}
	}

	return next, !next.IsZero()
}
