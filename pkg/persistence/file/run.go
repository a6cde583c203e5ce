package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
)

// RunRepository stores one JSON document per execution run.
type RunRepository struct {
	root string
	mu   sync.RWMutex
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) dir() string {
	return filepath.Join(rr.root, "runs")
}

func (rr *RunRepository) Save(_ context.Context, run *models.ExecutionRun) error {
	if err := validateID(run.ID); err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	stored, err := rr.read(run.ID)

	switch {
	case persistence.IsRunNotFound(err):
		if run.Revision != 0 {
			return persistence.NewRunError("Save", run.ID, persistence.ErrRunConflict)
		}
	case err != nil:
		return persistence.NewRunError("Save", run.ID, err)
	case stored.Revision != run.Revision:
		return persistence.NewRunError("Save", run.ID, persistence.ErrRunConflict)
	}

	run.Revision++

	if err := writeJSON(filepath.Join(rr.dir(), run.ID+".json"), run); err != nil {
		run.Revision--

		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (rr *RunRepository) GetByID(_ context.Context, runID string) (*models.ExecutionRun, error) {
	if err := validateID(runID); err != nil {
		return nil, persistence.NewRunError("GetByID", runID, err)
	}

	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.read(runID)
}

func (rr *RunRepository) read(runID string) (*models.ExecutionRun, error) {
	var run models.ExecutionRun

	if err := readJSON(filepath.Join(rr.dir(), runID+".json"), &run); err != nil {
		if isNotExist(err) {
			return nil, persistence.NewRunError("GetByID", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", runID, err)
	}

	return &run, nil
}

func (rr *RunRepository) list(filter func(*models.ExecutionRun) bool) ([]*models.ExecutionRun, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	ids, err := listIDs(rr.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.ExecutionRun, 0)

	for _, id := range ids {
		run, err := rr.read(id)
		if err != nil {
			return nil, err
		}

		if filter(run) {
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}

func (rr *RunRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.ExecutionRun, error) {
	return rr.list(func(run *models.ExecutionRun) bool {
		return run.WorkflowID == workflowID
	})
}

func (rr *RunRepository) ListSuspended(_ context.Context) ([]*models.ExecutionRun, error) {
	return rr.list(func(run *models.ExecutionRun) bool {
		return run.Status == models.RunStatusSuspended
	})
}

func (rr *RunRepository) ListDue(_ context.Context, now time.Time) ([]*models.ExecutionRun, error) {
	return rr.list(func(run *models.ExecutionRun) bool {
		return run.Status == models.RunStatusSuspended && len(run.DueWaits(now)) > 0
	})
}
