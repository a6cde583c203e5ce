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
)

type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const selectRun = `
	SELECT
		id
	  , workflow_id
	  , workflow_version
	  , trigger_step_id
	  , status
	  , steps
	  , frontier
	  , context
	  , snapshot
	  , waits
	  , error_message
	  , created_at
	  , updated_at
	  , completed_at
	  , revision
	FROM execution_runs
`

// Save upserts the run. The update only applies when the stored revision
// still equals run.Revision, so two processes resuming the same run cannot
// both write it. next_due_at mirrors the earliest wait so the scheduler can
// query due runs without decoding waits.
func (r *RunRepository) Save(ctx context.Context, run *models.ExecutionRun) error {
	columns := make([][]byte, 0, 5)

	for _, v := range []any{run.Steps, orEmpty(run.Frontier), run.Context, run.Snapshot, orEmpty(run.Waits)} {
		data, err := json.Marshal(v)
		if err != nil {
			return persistence.NewRunError("Save", run.ID, err)
		}

		columns = append(columns, data)
	}

	var nextDue *time.Time
	if due, ok := run.NextDue(); ok {
		nextDue = &due
	}

	var revision int64

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO execution_runs (id, workflow_id, workflow_version, trigger_step_id, status, steps, frontier,
			context, snapshot, waits, next_due_at, error_message, created_at, updated_at, completed_at, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16 + 1)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			steps = EXCLUDED.steps,
			frontier = EXCLUDED.frontier,
			context = EXCLUDED.context,
			waits = EXCLUDED.waits,
			next_due_at = EXCLUDED.next_due_at,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			revision = execution_runs.revision + 1
		WHERE execution_runs.revision = $16
		RETURNING revision
	`,
		run.ID,
		run.WorkflowID,
		run.WorkflowVersion,
		run.TriggerStepID,
		run.Status,
		columns[0],
		columns[1],
		columns[2],
		columns[3],
		columns[4],
		nextDue,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
		run.CompletedAt,
		run.Revision,
	).Scan(&revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewRunError("Save", run.ID, persistence.ErrRunConflict)
		}

		return persistence.NewRunError("Save", run.ID, err)
	}

	run.Revision = revision

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return run, nil
}

func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionRun, error) {
	return r.query(ctx, selectRun+" WHERE workflow_id = $1 ORDER BY created_at", workflowID)
}

func (r *RunRepository) ListSuspended(ctx context.Context) ([]*models.ExecutionRun, error) {
	return r.query(ctx, selectRun+" WHERE status = 'suspended' ORDER BY created_at")
}

func (r *RunRepository) ListDue(ctx context.Context, now time.Time) ([]*models.ExecutionRun, error) {
	return r.query(ctx, selectRun+" WHERE status = 'suspended' AND next_due_at <= $1 ORDER BY next_due_at", now)
}

func (r *RunRepository) query(ctx context.Context, query string, args ...any) ([]*models.ExecutionRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.ExecutionRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row scanner) (*models.ExecutionRun, error) {
	var (
		run                                  models.ExecutionRun
		steps, frontier, execCtx, snap, wait []byte
		completedAt                          sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.WorkflowVersion,
		&run.TriggerStepID,
		&run.Status,
		&steps,
		&frontier,
		&execCtx,
		&snap,
		&wait,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
		&completedAt,
		&run.Revision,
	)
	if err != nil {
		return nil, err
	}

	targets := []struct {
		data []byte
		dest any
	}{
		{steps, &run.Steps},
		{frontier, &run.Frontier},
		{execCtx, &run.Context},
		{snap, &run.Snapshot},
		{wait, &run.Waits},
	}

	for _, t := range targets {
		if len(t.data) == 0 {
			continue
		}

		if err := json.Unmarshal(t.data, t.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run %s: %w", run.ID, err)
		}
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return &run, nil
}
