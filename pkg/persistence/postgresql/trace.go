package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
)

// TraceRepository only ever inserts into execution_traces.
type TraceRepository struct {
	db *sql.DB
}

func NewTraceRepository(db *sql.DB) *TraceRepository {
	return &TraceRepository{db: db}
}

func (r *TraceRepository) Append(ctx context.Context, entry *models.TraceEntry) error {
	var detail []byte

	if entry.Detail != nil {
		var err error

		detail, err = json.Marshal(entry.Detail)
		if err != nil {
			return persistence.NewRunError("AppendTrace", entry.RunID, err)
		}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO execution_traces (run_id, seq, step_id, outcome, detail, created_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
		FROM execution_traces
		WHERE run_id = $1
		RETURNING seq
	`, entry.RunID, entry.StepID, entry.Outcome, detail, entry.Timestamp).Scan(&entry.Seq)
	if err != nil {
		return persistence.NewRunError("AppendTrace", entry.RunID, err)
	}

	return nil
}

func (r *TraceRepository) Read(ctx context.Context, runID string) ([]models.TraceEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, step_id, outcome, detail, created_at
		FROM execution_traces
		WHERE run_id = $1
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, persistence.NewRunError("ReadTrace", runID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	entries := make([]models.TraceEntry, 0)

	for rows.Next() {
		var (
			entry  = models.TraceEntry{RunID: runID}
			detail []byte
		)

		if err := rows.Scan(&entry.Seq, &entry.StepID, &entry.Outcome, &detail, &entry.Timestamp); err != nil {
			return nil, persistence.NewRunError("ReadTrace", runID, err)
		}

		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, persistence.NewRunError("ReadTrace", runID, fmt.Errorf("corrupt detail: %w", err))
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRunError("ReadTrace", runID, err)
	}

	return entries, nil
}
