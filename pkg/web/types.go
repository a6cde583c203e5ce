// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/flowbase/pkg/fieldmap"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
// Steps, connections and triggers are optional and can be replaced later.
type CreateWorkflowRequest struct {
	Name        string                     `json:"name"                  validate:"required,min=3"`
	Description string                     `json:"description"`
	Steps       []*models.Step             `json:"steps,omitempty"       validate:"dive"`
	Connections []*models.Connection       `json:"connections,omitempty" validate:"dive"`
	Triggers    []*models.Trigger          `json:"triggers,omitempty"    validate:"dive"`
	Layout      map[string]models.Position `json:"layout,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name        *string                    `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                    `json:"description,omitempty"`
	Layout      map[string]models.Position `json:"layout,omitempty"`
}

// ReplaceStepsRequest replaces the whole step graph of a workflow.
type ReplaceStepsRequest struct {
	Steps       []*models.Step             `json:"steps"       validate:"dive"`
	Connections []*models.Connection       `json:"connections" validate:"dive"`
	Layout      map[string]models.Position `json:"layout,omitempty"`
}

type ReplaceTriggersRequest struct {
	Triggers []*models.Trigger `json:"triggers" validate:"dive"`
}

// ExecuteWorkflowRequest starts a test run without going through trigger matching.
type ExecuteWorkflowRequest struct {
	WorkflowID    string         `json:"workflow_id"               validate:"required"`
	TriggerData   map[string]any `json:"trigger_data"`
	TriggerStepID string         `json:"trigger_step_id,omitempty"`
}

// EventRequest is an inbound form submission or database change.
type EventRequest struct {
	Type      models.TriggerType `json:"type"                validate:"required,oneof=form_submission database_change"`
	SourceID  string             `json:"source_id"           validate:"required"`
	Operation models.Operation   `json:"operation,omitempty" validate:"omitempty,oneof=create update delete"`
	Payload   map[string]any     `json:"payload"`
}

type DecisionRequest struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment,omitempty"`
}

// ValidationResponse reports the outcome of validating a workflow graph.
type ValidationResponse struct {
	Valid    bool            `json:"valid"`
	Problems []graph.Problem `json:"problems"`
}

type RunsResponse struct {
	Runs []*models.ExecutionRun `json:"runs"`
}

// FieldMappingRequest asks for suggested form to table field mappings.
type FieldMappingRequest struct {
	FormFields []fieldmap.Field `json:"form_fields" validate:"required,dive"`
	DBFields   []fieldmap.Field `json:"db_fields"   validate:"required,dive"`
}
