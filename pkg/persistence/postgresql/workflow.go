package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository stores the step graph as JSONB and the trigger bindings
// in their own table, indexed by (trigger_type, source_id).
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const selectWorkflow = `
	SELECT
		id
	  , name
	  , description
	  , is_active
	  , version
	  , steps
	  , connections
	  , layout
	  , created_at
	  , updated_at
	FROM workflows
`

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, selectWorkflow+" ORDER BY created_at")
}

func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, selectWorkflow+" WHERE is_active ORDER BY created_at")
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadTriggers(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, selectWorkflow+" WHERE id = $1", id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if err := r.loadTriggers(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow                         models.Workflow
		stepsJSON, connsJSON, layoutJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.IsActive,
		&workflow.Version,
		&stepsJSON,
		&connsJSON,
		&layoutJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &workflow.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(connsJSON, &workflow.Connections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	if err := json.Unmarshal(layoutJSON, &workflow.Layout); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layout: %w", err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadTriggers(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, step_id, trigger_type, source_id, operations
		FROM workflow_triggers
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("LoadTriggers", workflow.ID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflow.Triggers = make([]*models.Trigger, 0)

	for rows.Next() {
		var (
			trigger = models.Trigger{WorkflowID: workflow.ID}
			opsJSON []byte
		)

		if err := rows.Scan(&trigger.ID, &trigger.StepID, &trigger.Type, &trigger.SourceID, &opsJSON); err != nil {
			return persistence.NewWorkflowError("LoadTriggers", workflow.ID, err)
		}

		if err := json.Unmarshal(opsJSON, &trigger.Operations); err != nil {
			return persistence.NewWorkflowError("LoadTriggers", workflow.ID, err)
		}

		workflow.Triggers = append(workflow.Triggers, &trigger)
	}

	if err := rows.Err(); err != nil {
		return persistence.NewWorkflowError("LoadTriggers", workflow.ID, err)
	}

	return nil
}

// Save upserts the workflow row and replaces its trigger rows in one
// transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	stepsJSON, err := json.Marshal(orEmpty(workflow.Steps))
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	connsJSON, err := json.Marshal(orEmpty(workflow.Connections))
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	layout := workflow.Layout
	if layout == nil {
		layout = map[string]models.Position{}
	}

	layoutJSON, err := json.Marshal(layout)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, is_active, version, steps, connections, layout, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			version = EXCLUDED.version,
			steps = EXCLUDED.steps,
			connections = EXCLUDED.connections,
			layout = EXCLUDED.layout,
			updated_at = EXCLUDED.updated_at
	`,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.IsActive,
		workflow.Version,
		stepsJSON,
		connsJSON,
		layoutJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_triggers WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	for i, trigger := range workflow.Triggers {
		var opsJSON []byte

		opsJSON, err = json.Marshal(orEmpty(trigger.Operations))
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_triggers (workflow_id, id, step_id, trigger_type, source_id, operations, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, workflow.ID, trigger.ID, trigger.StepID, trigger.Type, trigger.SourceID, opsJSON, i)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("trigger %s: %w", trigger.ID, err))
		}
	}

	if err = tx.Commit(); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
