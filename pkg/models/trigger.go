package models

import (
	"slices"
	"time"
)

type TriggerType string

const (
	TriggerTypeFormSubmission TriggerType = "form_submission"
	TriggerTypeDatabaseChange TriggerType = "database_change"
)

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Trigger binds a workflow's trigger step to an external event source.
type Trigger struct {
	ID         string      `json:"id"                   yaml:"id"`
	WorkflowID string      `json:"workflow_id"          yaml:"workflow_id"`
	StepID     string      `json:"step_id"              yaml:"step_id"              validate:"required"`
	Type       TriggerType `json:"type"                 yaml:"type"                 validate:"required,oneof=form_submission database_change"`
	SourceID   string      `json:"source_id"            yaml:"source_id"            validate:"required"`
	Operations []Operation `json:"operations,omitempty" yaml:"operations,omitempty" validate:"dive,oneof=create update delete"`
}

// Accepts reports whether an event operation passes this trigger's filter.
// Form submissions carry no operation and always pass.
func (t *Trigger) Accepts(op Operation) bool {
	if t.Type != TriggerTypeDatabaseChange {
		return true
	}

	return slices.Contains(t.Operations, op)
}

// Event is an inbound occurrence from a form or a table.
type Event struct {
	ID         string         `json:"id"`
	Type       TriggerType    `json:"type"                validate:"required,oneof=form_submission database_change"`
	SourceID   string         `json:"source_id"           validate:"required"`
	Operation  Operation      `json:"operation,omitempty" validate:"omitempty,oneof=create update delete"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
	// OriginWorkflowID is set when a workflow's own step caused the event.
	// That workflow is not fired again by it.
	OriginWorkflowID string `json:"origin_workflow_id,omitempty"`
}
