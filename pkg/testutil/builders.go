// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/flowbase/pkg/models"
	"github.com/google/uuid"
)

// CreateTestStep creates an action step with default values that can be overridden.
func CreateTestStep(id string, overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:     id,
		Kind:   models.StepKindAction,
		Name:   "Test Step",
		Config: map[string]any{},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithTriggerKind turns the step into a trigger step.
func WithTriggerKind() func(*models.Step) {
	return func(s *models.Step) {
		s.Kind = models.StepKindTrigger
		s.ActionType = ""
		s.Config = nil
	}
}

// WithAction sets the action type and its configuration.
func WithAction(actionType string, config map[string]any) func(*models.Step) {
	return func(s *models.Step) {
		s.ActionType = actionType
		s.Config = config
	}
}

// WithName sets the step name.
func WithName(name string) func(*models.Step) {
	return func(s *models.Step) {
		s.Name = name
	}
}

// CreateTestConnection creates an untagged connection between two steps.
func CreateTestConnection(from, to string) *models.Connection {
	return &models.Connection{
		ID:   uuid.New().String(),
		From: from,
		To:   to,
	}
}

// CreateTestBranch creates a connection taken only on the given condition outcome.
func CreateTestBranch(from, to string, branch models.Branch) *models.Connection {
	conn := CreateTestConnection(from, to)
	conn.Branch = branch

	return conn
}

// CreateFormTrigger binds stepID to submissions of form sourceID.
func CreateFormTrigger(stepID, sourceID string) *models.Trigger {
	return &models.Trigger{
		ID:       uuid.New().String(),
		StepID:   stepID,
		Type:     models.TriggerTypeFormSubmission,
		SourceID: sourceID,
	}
}

// CreateTestWorkflow creates an inactive workflow with a single trigger step
// "trigger" bound to form "test-form". Callers append their own steps.
func CreateTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Version:     1,
		Steps:       []*models.Step{CreateTestStep("trigger", WithTriggerKind())},
		Connections: []*models.Connection{},
		Triggers:    []*models.Trigger{CreateFormTrigger("trigger", "test-form")},
	}
}

// Chain appends steps to the workflow, each connected to the previous one,
// starting from the trigger.
func Chain(workflow *models.Workflow, steps ...*models.Step) *models.Workflow {
	prev := workflow.Steps[len(workflow.Steps)-1].ID

	for _, step := range steps {
		workflow.Steps = append(workflow.Steps, step)
		workflow.Connections = append(workflow.Connections, CreateTestConnection(prev, step.ID))
		prev = step.ID
	}

	return workflow
}
