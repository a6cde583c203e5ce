package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/google/uuid"
)

type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func recordError(op, tableID, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		err = persistence.ErrRecordNotFound
	}

	return &persistence.RecordError{Op: op, TableID: tableID, RecordID: id, Err: err}
}

func (r *RecordRepository) Create(ctx context.Context, record *models.Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	if record.Fields == nil {
		record.Fields = map[string]any{}
	}

	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return recordError("Create", record.TableID, record.ID, err)
	}

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO table_records (table_id, id, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, record.TableID, record.ID, fields, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return recordError("Create", record.TableID, record.ID, err)
	}

	return nil
}

func (r *RecordRepository) GetByID(ctx context.Context, tableID, id string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT table_id, id, fields, created_at, updated_at
		FROM table_records
		WHERE table_id = $1 AND id = $2
	`, tableID, id)

	record, err := scanRecord(row)
	if err != nil {
		return nil, recordError("GetByID", tableID, id, err)
	}

	return record, nil
}

// Update merges fields into the stored JSONB document.
func (r *RecordRepository) Update(ctx context.Context, tableID, id string, fields map[string]any) (*models.Record, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return nil, recordError("Update", tableID, id, err)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE table_records
		SET fields = fields || $3::jsonb, updated_at = $4
		WHERE table_id = $1 AND id = $2
		RETURNING table_id, id, fields, created_at, updated_at
	`, tableID, id, patch, time.Now().UTC())

	record, err := scanRecord(row)
	if err != nil {
		return nil, recordError("Update", tableID, id, err)
	}

	return record, nil
}

func (r *RecordRepository) Delete(ctx context.Context, tableID, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM table_records WHERE table_id = $1 AND id = $2", tableID, id)
	if err != nil {
		return recordError("Delete", tableID, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return recordError("Delete", tableID, id, err)
	}

	if affected == 0 {
		return recordError("Delete", tableID, id, persistence.ErrRecordNotFound)
	}

	return nil
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		record models.Record
		fields []byte
	)

	if err := row.Scan(&record.TableID, &record.ID, &fields, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fields, &record.Fields); err != nil {
		return nil, err
	}

	return &record, nil
}
