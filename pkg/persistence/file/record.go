package file

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/google/uuid"
)

// RecordRepository stores rows under records/<table>/<id>.json.
type RecordRepository struct {
	root string
	mu   sync.Mutex
}

func NewRecordRepository(root string) *RecordRepository {
	return &RecordRepository{root: root}
}

func (rr *RecordRepository) path(tableID, id string) string {
	return filepath.Join(rr.root, "records", tableID, id+".json")
}

func recordError(op, tableID, id string, err error) error {
	return &persistence.RecordError{Op: op, TableID: tableID, RecordID: id, Err: err}
}

func (rr *RecordRepository) Create(_ context.Context, record *models.Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	if err := validateID(record.TableID); err != nil {
		return recordError("Create", record.TableID, record.ID, err)
	}

	if err := validateID(record.ID); err != nil {
		return recordError("Create", record.TableID, record.ID, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if record.Fields == nil {
		record.Fields = map[string]any{}
	}

	if err := writeJSON(rr.path(record.TableID, record.ID), record); err != nil {
		return recordError("Create", record.TableID, record.ID, err)
	}

	return nil
}

func (rr *RecordRepository) GetByID(_ context.Context, tableID, id string) (*models.Record, error) {
	if err := validateID(tableID); err != nil {
		return nil, recordError("GetByID", tableID, id, err)
	}

	if err := validateID(id); err != nil {
		return nil, recordError("GetByID", tableID, id, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	return rr.read("GetByID", tableID, id)
}

func (rr *RecordRepository) read(op, tableID, id string) (*models.Record, error) {
	var record models.Record

	if err := readJSON(rr.path(tableID, id), &record); err != nil {
		if isNotExist(err) {
			return nil, recordError(op, tableID, id, persistence.ErrRecordNotFound)
		}

		return nil, recordError(op, tableID, id, err)
	}

	return &record, nil
}

func (rr *RecordRepository) Update(_ context.Context, tableID, id string, fields map[string]any) (*models.Record, error) {
	if err := validateID(tableID); err != nil {
		return nil, recordError("Update", tableID, id, err)
	}

	if err := validateID(id); err != nil {
		return nil, recordError("Update", tableID, id, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	record, err := rr.read("Update", tableID, id)
	if err != nil {
		return nil, err
	}

	if record.Fields == nil {
		record.Fields = map[string]any{}
	}

	maps.Copy(record.Fields, fields)
	record.UpdatedAt = time.Now().UTC()

	if err := writeJSON(rr.path(tableID, id), record); err != nil {
		return nil, recordError("Update", tableID, id, err)
	}

	return record, nil
}

func (rr *RecordRepository) Delete(_ context.Context, tableID, id string) error {
	if err := validateID(tableID); err != nil {
		return recordError("Delete", tableID, id, err)
	}

	if err := validateID(id); err != nil {
		return recordError("Delete", tableID, id, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if err := os.Remove(rr.path(tableID, id)); err != nil {
		if isNotExist(err) {
			return recordError("Delete", tableID, id, persistence.ErrRecordNotFound)
		}

		return recordError("Delete", tableID, id, err)
	}

	return nil
}
