package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/mocks"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/persistence/file"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// interleaved runs afterLoad once, right after the first cycle load through it returns.
type interleaved struct {
	persistence.Persistence

	once      sync.Once
	afterLoad func()
}

func (p *interleaved) CycleRepository() persistence.CycleRepository {
	return &interleavedCycles{CycleRepository: p.Persistence.CycleRepository(), parent: p}
}

type interleavedCycles struct {
	persistence.CycleRepository

	parent *interleaved
}

func (r *interleavedCycles) GetByID(ctx context.Context, tenantID, cycleID string) (*models.Cycle, error) {
	cycle, err := r.CycleRepository.GetByID(ctx, tenantID, cycleID)

	r.parent.once.Do(r.parent.afterLoad)

	return cycle, err
}

// twoNodes returns two services that share a data directory and a version store, like two API
// processes behind a load balancer.
func twoNodes(t *testing.T, between func(nodeA *Cycle) func()) (*Cycle, *Cycle) {
	t.Helper()

	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC))
	versions := versioning.NewMemoryStore()

	node := func(p persistence.Persistence) *Cycle {
		resolver := versioning.NewResolver(versions, clock, slog.Default())
		locks := locking.NewManager(locking.NewMemoryStore(), slog.Default(), locking.WithClock(clock))

		return NewCycle(p, resolver, locks, slog.Default(), WithClock(clock))
	}

	nodeA := node(file.NewPersistence(dir))
	nodeB := node(&interleaved{Persistence: file.NewPersistence(dir), afterLoad: between(nodeA)})

	return nodeA, nodeB
}

func TestCycle_StaleDocumentSaveKeepsOtherNodesStepWrite(t *testing.T) {
	ctx := context.Background()

	var cycleID string

	nodeA, nodeB := twoNodes(t, func(nodeA *Cycle) func() {
		return func() {
			update, err := nodeA.UpdateStep(ctx, alice, cycleID, "identify-owners", map[string]any{"owners": []any{"carol"}}, 0)
			require.NoError(t, err)
			require.True(t, update.Success)
		}
	})

	cycle, err := nodeA.StartCycle(ctx, alice, "report-42", periodEnd)
	require.NoError(t, err)

	cycleID = cycle.ID

	// node B loads the cycle, node A saves its step write, then node B saves
	blocked, err := nodeB.BlockPhase(ctx, bob, cycleID, models.PhaseReview, "waiting for the auditor")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStatusBlocked, blocked.Phase(models.PhaseReview).Status)

	for _, node := range []*Cycle{nodeA, nodeB} {
		stored, err := node.persistence.CycleRepository().GetByID(ctx, "tenant-a", cycleID)
		require.NoError(t, err)

		_, step := stored.FindStep("identify-owners")
		assert.Equal(t, int64(1), step.Version)
		assert.Equal(t, []any{"carol"}, step.Data["owners"])
		assert.Equal(t, models.PhaseStatusBlocked, stored.Phase(models.PhaseReview).Status)
		assert.Equal(t, int64(3), stored.Revision)
	}
}

func TestCycle_StepWritesFromTwoNodesAreBothKept(t *testing.T) {
	ctx := context.Background()

	var cycleID string

	nodeA, nodeB := twoNodes(t, func(nodeA *Cycle) func() {
		return func() {
			_, err := nodeA.UpdateStep(ctx, alice, cycleID, "identify-owners", map[string]any{"owners": []any{"carol"}}, 0)
			require.NoError(t, err)
		}
	})

	cycle, err := nodeA.StartCycle(ctx, alice, "report-42", periodEnd)
	require.NoError(t, err)

	cycleID = cycle.ID

	update, err := nodeB.UpdateStep(ctx, bob, cycleID, "define-scope", validData["define-scope"], 0)
	require.NoError(t, err)
	require.True(t, update.Success)

	stored, err := nodeA.persistence.CycleRepository().GetByID(ctx, "tenant-a", cycleID)
	require.NoError(t, err)

	for stepID, writer := range map[string]string{"identify-owners": "alice", "define-scope": "bob"} {
		_, step := stored.FindStep(stepID)
		assert.Equal(t, int64(1), step.Version, stepID)
		assert.Equal(t, writer, step.UpdatedBy, stepID)
		assert.Equal(t, models.StepStatusInProgress, step.Status, stepID)
	}
}

func TestCycle_DocumentCatchesUpWithVersionStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cycle := f.start(t)

	// the version store accepted a write whose document save never happened
	key := models.StepKey{TenantID: "tenant-a", CycleID: cycle.ID, StepID: "identify-owners"}
	result, err := f.resolver.UpdateStepData(ctx, key, validData["identify-owners"], 0, "bob")
	require.NoError(t, err)
	require.True(t, result.Success)

	fetched, err := f.cycles.FetchCycle(ctx, alice, cycle.ID)
	require.NoError(t, err)

	_, step := fetched.FindStep("identify-owners")
	assert.Equal(t, int64(1), step.Version)
	assert.Equal(t, "bob", step.UpdatedBy)
	assert.Equal(t, models.StepStatusInProgress, step.Status)

	completed, err := f.cycles.CompleteStep(ctx, alice, cycle.ID, "identify-owners")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, completed.Status)

	stored, err := f.store.CycleRepository().GetByID(ctx, "tenant-a", cycle.ID)
	require.NoError(t, err)

	_, step = stored.FindStep("identify-owners")
	assert.Equal(t, int64(1), step.Version)
	assert.Equal(t, []any{"carol"}, step.Data["owners"])
	assert.Equal(t, models.StepStatusCompleted, step.Status)

	// a stale document never moves a step back
	update, err := f.cycles.UpdateStep(ctx, alice, cycle.ID, "identify-owners", map[string]any{"owners": []any{"carol", "dave"}}, 1)
	require.NoError(t, err)
	require.True(t, update.Success)
	assert.Equal(t, int64(2), update.Step.Version)
}

func TestCycle_ModifyGivesUpAfterRepeatedRevisionConflicts(t *testing.T) {
	cycle := &models.Cycle{
		ID:       "cycle-1",
		TenantID: "tenant-a",
		Status:   models.CycleStatusActive,
		Phases:   []*models.Phase{{ID: models.PhaseReview, Status: models.PhaseStatusPending}},
	}

	mockPersistence := mocks.NewMockPersistence(file.NewPersistence(t.TempDir()))
	mockPersistence.Cycles.On("GetByID", mock.Anything, "tenant-a", "cycle-1").Return(cycle, nil)
	mockPersistence.Cycles.On("Save", mock.Anything, mock.Anything).Return(persistence.ErrRevisionConflict)

	resolver := versioning.NewResolver(versioning.NewMemoryStore(), nil, slog.Default())
	service := NewCycle(mockPersistence, resolver, locking.NewManager(locking.NewMemoryStore(), slog.Default()), slog.Default())

	_, err := service.BlockPhase(context.Background(), alice, "cycle-1", models.PhaseReview, "auditor unavailable")
	require.ErrorIs(t, err, versioning.ErrContention)
	require.ErrorIs(t, err, persistence.ErrRevisionConflict)

	mockPersistence.Cycles.AssertNumberOfCalls(t, "Save", maxSaveAttempts)
}
