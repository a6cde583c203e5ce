package models

import "time"

type TraceOutcome string

const (
	OutcomeTriggerMatched TraceOutcome = "trigger-matched"
	OutcomeSuccess        TraceOutcome = "success"
	OutcomeFailed         TraceOutcome = "failed"
	OutcomeSkipped        TraceOutcome = "skipped"
	OutcomeSuspended      TraceOutcome = "suspended"
	OutcomeResumed        TraceOutcome = "resumed"
)

// TraceEntry is one immutable line of a run's execution trace.
type TraceEntry struct {
	RunID     string         `json:"run_id"`
	Seq       int64          `json:"seq"`
	StepID    string         `json:"step_id"`
	Outcome   TraceOutcome   `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Label renders the entry as "<step>-<outcome>", the form used by test-run logs.
func (e TraceEntry) Label() string {
	if e.Outcome == OutcomeTriggerMatched {
		return string(e.Outcome)
	}

	return e.StepID + "-" + string(e.Outcome)
}
