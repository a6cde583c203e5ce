package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

type Workflow struct {
	persistence persistence.Persistence
	validator   *graph.Validator
	index       *trigger.Index
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
}

type WorkflowOption func(*Workflow)

// WithPublisher announces activations and deactivations so that other
// processes can update their trigger index.
func WithPublisher(publisher eventbus.EventPublisher) WorkflowOption {
	return func(w *Workflow) {
		w.publisher = publisher
	}
}

// NewWorkflow creates a new workflow service. index may be nil when no
// process in this binary matches events.
func NewWorkflow(logger *slog.Logger, persistence persistence.Persistence, graphValidator *graph.Validator, index *trigger.Index, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		persistence: persistence,
		validator:   graphValidator,
		index:       index,
		publisher:   eventbus.NopPublisher{},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every workflow, newest first.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	slices.SortStableFunc(workflows, func(a, b *models.Workflow) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create adds a new, inactive workflow at version 1.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if err := w.validate.Var(workflow.Name, "required,min=3"); err != nil {
		return nil, NewValidationError("Create", "INVALID_NAME", ErrWorkflowNameRequired.Error(), ErrWorkflowNameRequired)
	}

	now := time.Now().UTC()
	workflow.ID = uuid.NewString()
	workflow.IsActive = false
	workflow.Version = 1
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := w.normalizeGraph(workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "name", workflow.Name)

	return workflow, nil
}

// UpdateWorkflowRequest carries the fields a PATCH may change.
type UpdateWorkflowRequest struct {
	Name        *string                    `json:"name"        validate:"omitempty,min=3"`
	Description *string                    `json:"description"`
	Layout      map[string]models.Position `json:"layout"`
}

// Update modifies workflow metadata and layout. Layout changes never
// affect execution and do not bump the version.
func (w *Workflow) Update(ctx context.Context, workflowID string, req UpdateWorkflowRequest) (*models.Workflow, error) {
	if err := w.validate.Struct(req); err != nil {
		return nil, NewValidationError("Update", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		workflow.Name = *req.Name
	}

	if req.Description != nil {
		workflow.Description = *req.Description
	}

	if req.Layout != nil {
		workflow.Layout = req.Layout
	}

	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Delete disarms and removes a workflow. Runs already started keep their
// snapshot and finish.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if w.index != nil {
		w.index.Deactivate(workflowID)
	}

	if err := w.persistence.WorkflowRepository().Delete(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if workflow.IsActive {
		workflow.IsActive = false
		w.announce(ctx, workflow)
	}

	return nil
}

// normalizeGraph fills generated ids and binds triggers to the workflow.
func (w *Workflow) normalizeGraph(workflow *models.Workflow) error {
	for _, step := range workflow.Steps {
		if step == nil {
			return NewValidationError("normalizeGraph", "INVALID_STEP", "step cannot be null", ErrInvalidRequest)
		}

		if step.ID == "" {
			step.ID = uuid.NewString()
		}
	}

	for _, conn := range workflow.Connections {
		if conn == nil {
			return NewValidationError("normalizeGraph", "INVALID_CONNECTION", "connection cannot be null", ErrInvalidRequest)
		}

		if conn.ID == "" {
			conn.ID = uuid.NewString()
		}
	}

	for _, t := range workflow.Triggers {
		if t == nil {
			return NewValidationError("normalizeGraph", "INVALID_TRIGGER", "trigger cannot be null", ErrInvalidRequest)
		}

		if t.ID == "" {
			t.ID = uuid.NewString()
		}

		t.WorkflowID = workflow.ID
	}

	if workflow.Steps == nil {
		workflow.Steps = []*models.Step{}
	}

	if workflow.Connections == nil {
		workflow.Connections = []*models.Connection{}
	}

	if workflow.Triggers == nil {
		workflow.Triggers = []*models.Trigger{}
	}

	return nil
}
