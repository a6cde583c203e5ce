package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
)

// ReplaceStepsRequest replaces the whole graph of a workflow at once.
type ReplaceStepsRequest struct {
	Steps       []*models.Step             `json:"steps"       validate:"dive"`
	Connections []*models.Connection       `json:"connections" validate:"dive"`
	Layout      map[string]models.Position `json:"layout"`
}

// ReplaceSteps swaps the steps and connections of a workflow and bumps its
// version. An active workflow must still validate, otherwise nothing is
// saved. Runs in flight keep executing their own snapshot.
func (w *Workflow) ReplaceSteps(ctx context.Context, workflowID string, req ReplaceStepsRequest) (*models.Workflow, error) {
	if err := w.validate.Struct(req); err != nil {
		return nil, NewValidationError("ReplaceSteps", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.Steps = req.Steps
	workflow.Connections = req.Connections

	if req.Layout != nil {
		workflow.Layout = req.Layout
	}

	return w.commit(ctx, "ReplaceSteps", workflow)
}

// ClearSteps removes every step and connection.
func (w *Workflow) ClearSteps(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.ReplaceSteps(ctx, workflowID, ReplaceStepsRequest{Layout: map[string]models.Position{}})
}

// ReplaceTriggers swaps the trigger bindings of a workflow.
func (w *Workflow) ReplaceTriggers(ctx context.Context, workflowID string, triggers []*models.Trigger) (*models.Workflow, error) {
	if err := w.validate.Var(triggers, "dive"); err != nil {
		return nil, NewValidationError("ReplaceTriggers", "INVALID_TRIGGER", err.Error(), ErrInvalidRequest)
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.Triggers = triggers

	return w.commit(ctx, "ReplaceTriggers", workflow)
}

func (w *Workflow) ClearTriggers(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.ReplaceTriggers(ctx, workflowID, nil)
}

// Validate runs the graph validator without changing anything.
func (w *Workflow) Validate(ctx context.Context, workflowID string) error {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	return w.validator.Validate(workflow)
}

// Activate validates the workflow and arms its triggers.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := w.validator.Validate(workflow); err != nil {
		return nil, err
	}

	workflow.IsActive = true
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	if w.index != nil {
		w.index.Activate(workflow)
	}

	w.announce(ctx, workflow)

	w.logger.InfoContext(ctx, "Workflow activated", "workflow_id", workflow.ID, "version", workflow.Version, "triggers", len(workflow.Triggers))

	return workflow, nil
}

// Deactivate disarms the triggers. In-flight runs are not cancelled.
func (w *Workflow) Deactivate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.IsActive = false
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to deactivate workflow: %w", err)
	}

	if w.index != nil {
		w.index.Deactivate(workflowID)
	}

	w.announce(ctx, workflow)

	w.logger.InfoContext(ctx, "Workflow deactivated", "workflow_id", workflow.ID)

	return workflow, nil
}

func (w *Workflow) commit(ctx context.Context, op string, workflow *models.Workflow) (*models.Workflow, error) {
	if err := w.normalizeGraph(workflow); err != nil {
		return nil, err
	}

	if workflow.IsActive {
		if err := w.validator.Validate(workflow); err != nil {
			return nil, err
		}
	}

	workflow.Version++
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow during %s: %w", op, err)
	}

	if workflow.IsActive {
		if w.index != nil {
			w.index.Activate(workflow)
		}

		w.announce(ctx, workflow)
	}

	return workflow, nil
}

// announce publishes the activation state of workflow. A failed publish
// only delays other processes until their next index refresh.
func (w *Workflow) announce(ctx context.Context, workflow *models.Workflow) {
	var event eventbus.Event = events.NewWorkflowDeactivated(workflow.ID)
	if workflow.IsActive {
		event = events.NewWorkflowActivated(workflow.ID, workflow.Version)
	}

	if err := w.publisher.Publish(ctx, workflow.ID, event); err != nil {
		w.logger.WarnContext(ctx, "Failed to publish workflow state", "workflow_id", workflow.ID, "event_type", event.GetType(), "error", err)
	}
}

// RebuildIndex reloads the trigger index from the active workflows in the
// store and returns how many were loaded.
func (w *Workflow) RebuildIndex(ctx context.Context) (int, error) {
	active, err := w.persistence.WorkflowRepository().ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active workflows: %w", err)
	}

	if w.index != nil {
		w.index.Rebuild(active)
	}

	return len(active), nil
}

// OnWorkflowChanged applies a workflow.activated or workflow.deactivated
// event to the local trigger index. The stored definition wins over the
// event, so redelivered or reordered events converge.
func (w *Workflow) OnWorkflowChanged(ctx context.Context, event any) error {
	var workflowID string

	switch e := event.(type) {
	case *events.WorkflowActivated:
		workflowID = e.WorkflowID
	case *events.WorkflowDeactivated:
		workflowID = e.WorkflowID
	default:
		return nil
	}

	if w.index == nil || workflowID == "" {
		return nil
	}

	workflow, err := w.FetchByID(ctx, workflowID)

	switch {
	case persistence.IsWorkflowNotFound(err):
		w.index.Deactivate(workflowID)

		return nil
	case err != nil:
		return err
	case workflow.IsActive:
		w.index.Activate(workflow)
	default:
		w.index.Deactivate(workflowID)
	}

	w.logger.DebugContext(ctx, "Trigger index updated", "workflow_id", workflowID, "active", workflow.IsActive)

	return nil
}
