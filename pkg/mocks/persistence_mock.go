package mocks

import (
	"context"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence mocks HealthCheck and Close and the cycle and task repositories. The remaining
// repositories come from Fallback.
type MockPersistence struct {
	mock.Mock

	Cycles   *MockCycleRepository
	Tasks    *MockTaskRepository
	Fallback persistence.Persistence
}

// NewMockPersistence creates a mock whose unmocked repositories are served by fallback.
func NewMockPersistence(fallback persistence.Persistence) *MockPersistence {
	return &MockPersistence{
		Cycles:   &MockCycleRepository{},
		Tasks:    &MockTaskRepository{},
		Fallback: fallback,
	}
}

func (m *MockPersistence) CycleRepository() persistence.CycleRepository {
	return m.Cycles
}

func (m *MockPersistence) TaskRepository() persistence.TaskRepository {
	return m.Tasks
}

func (m *MockPersistence) IssueRepository() persistence.IssueRepository {
	return m.Fallback.IssueRepository()
}

func (m *MockPersistence) ArtifactRepository() persistence.ArtifactRepository {
	return m.Fallback.ArtifactRepository()
}

func (m *MockPersistence) ReviewRepository() persistence.ReviewRepository {
	return m.Fallback.ReviewRepository()
}

func (m *MockPersistence) PreferenceRepository() persistence.PreferenceRepository {
	return m.Fallback.PreferenceRepository()
}

func (m *MockPersistence) SessionRepository() persistence.SessionRepository {
	return m.Fallback.SessionRepository()
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockCycleRepository is a mock implementation of persistence.CycleRepository interface.
type MockCycleRepository struct {
	mock.Mock
}

func (m *MockCycleRepository) Save(ctx context.Context, cycle *models.Cycle) error {
	args := m.Called(ctx, cycle)

	return args.Error(0)
}

func (m *MockCycleRepository) GetByID(ctx context.Context, tenantID, cycleID string) (*models.Cycle, error) {
	args := m.Called(ctx, tenantID, cycleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Cycle), args.Error(1)
}

func (m *MockCycleRepository) List(ctx context.Context, tenantID string) ([]*models.Cycle, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Cycle), args.Error(1)
}

// MockTaskRepository is a mock implementation of persistence.TaskRepository interface.
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Save(ctx context.Context, task *models.HumanTask) error {
	args := m.Called(ctx, task)

	return args.Error(0)
}

func (m *MockTaskRepository) GetByID(ctx context.Context, tenantID, taskID string) (*models.HumanTask, error) {
	args := m.Called(ctx, tenantID, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.HumanTask), args.Error(1)
}

func (m *MockTaskRepository) ListByCycle(ctx context.Context, tenantID, cycleID string) ([]*models.HumanTask, error) {
	args := m.Called(ctx, tenantID, cycleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.HumanTask), args.Error(1)
}
