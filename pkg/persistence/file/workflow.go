package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
)

// WorkflowRepository stores one JSON document per workflow.
type WorkflowRepository struct {
	root string
	mu   sync.RWMutex
}

func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

// GetAll returns every workflow sorted by creation time.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	ids, err := listIDs(wr.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.read(id)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (wr *WorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	all, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if workflow.IsActive {
			active = append(active, workflow)
		}
	}

	return active, nil
}

func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.read(workflowID)
}

func (wr *WorkflowRepository) read(workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := readJSON(filepath.Join(wr.dir(), workflowID+".json"), &workflow)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	return &workflow, nil
}

// Save upserts a workflow and stamps its timestamps.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if err := writeJSON(filepath.Join(wr.dir(), workflow.ID+".json"), workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	if err := validateID(workflowID); err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err := os.Remove(filepath.Join(wr.dir(), workflowID+".json"))
	if err != nil {
		if isNotExist(err) {
			return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	return nil
}
