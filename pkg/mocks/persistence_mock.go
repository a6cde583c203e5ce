package mocks

import (
	"context"
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Save(ctx context.Context, run *models.ExecutionRun) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRun), args.Error(1)
}

func (m *MockRunRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionRun, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRun), args.Error(1)
}

func (m *MockRunRepository) ListSuspended(ctx context.Context) ([]*models.ExecutionRun, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRun), args.Error(1)
}

func (m *MockRunRepository) ListDue(ctx context.Context, now time.Time) ([]*models.ExecutionRun, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRun), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
// Only the workflow and run repositories are mocks; traces and records
// should come from a file store in t.TempDir().
type MockPersistence struct {
	mock.Mock

	workflowRepo *MockWorkflowRepository
	runRepo      *MockRunRepository
	traceRepo    persistence.TraceRepository
	recordRepo   persistence.RecordRepository
}

// NewMockPersistence creates a new MockPersistence with mock workflow and run repositories.
func NewMockPersistence(traces persistence.TraceRepository, records persistence.RecordRepository) *MockPersistence {
	return &MockPersistence{
		workflowRepo: &MockWorkflowRepository{},
		runRepo:      &MockRunRepository{},
		traceRepo:    traces,
		recordRepo:   records,
	}
}

// GetMockWorkflowRepository returns the underlying mock workflow repository for setting up expectations.
func (m *MockPersistence) GetMockWorkflowRepository() *MockWorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) GetMockRunRepository() *MockRunRepository {
	return m.runRepo
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.runRepo
}

func (m *MockPersistence) TraceRepository() persistence.TraceRepository {
	return m.traceRepo
}

func (m *MockPersistence) RecordRepository() persistence.RecordRepository {
	return m.recordRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
