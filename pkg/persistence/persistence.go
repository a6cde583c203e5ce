// Package persistence provides the storage contracts for workflow
// definitions, execution runs, traces and virtual-table records.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowbase/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	TraceRepository() TraceRepository
	RecordRepository() RecordRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository is the narrow Definition Store contract.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// ListActive returns the workflows whose triggers are currently armed.
	ListActive(ctx context.Context) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// RunRepository stores execution runs. Save is an upsert and is called after
// every step transition.
type RunRepository interface {
	// Save fails with ErrRunConflict when run.Revision differs from the
	// stored revision and bumps run.Revision on success.
	Save(ctx context.Context, run *models.ExecutionRun) error
	GetByID(ctx context.Context, id string) (*models.ExecutionRun, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionRun, error)
	// ListSuspended returns every suspended run, oldest first.
	ListSuspended(ctx context.Context) ([]*models.ExecutionRun, error)
	// ListDue returns suspended runs holding at least one wait due at or
	// before now.
	ListDue(ctx context.Context, now time.Time) ([]*models.ExecutionRun, error)
}

// TraceRepository is append-only. Append assigns the next sequence number
// of the run to entry.Seq.
type TraceRepository interface {
	Append(ctx context.Context, entry *models.TraceEntry) error
	Read(ctx context.Context, runID string) ([]models.TraceEntry, error)
}

// RecordRepository writes rows of virtual tables.
type RecordRepository interface {
	Create(ctx context.Context, record *models.Record) error
	GetByID(ctx context.Context, tableID, id string) (*models.Record, error)
	// Update merges fields into the stored record and returns the result.
	Update(ctx context.Context, tableID, id string, fields map[string]any) (*models.Record, error)
	Delete(ctx context.Context, tableID, id string) error
}
