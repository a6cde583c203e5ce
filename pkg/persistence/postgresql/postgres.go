// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

type Persistence struct {
	db        *sql.DB
	logger    *slog.Logger
	workflows *WorkflowRepository
	runs      *RunRepository
	traces    *TraceRepository
	records   *RecordRepository
}

// NewPersistence connects to databaseURL and applies pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:        database,
		logger:    logger,
		workflows: NewWorkflowRepository(database, logger),
		runs:      NewRunRepository(database, logger),
		traces:    NewTraceRepository(database),
		records:   NewRecordRepository(database),
	}, nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runs
}

func (p *Persistence) TraceRepository() persistence.TraceRepository {
	return p.traces
}

func (p *Persistence) RecordRepository() persistence.RecordRepository {
	return p.records
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
