package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/persistence/postgresql"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

var tables = []string{
	"step_conflicts", "step_snapshots", "session_contexts", "preferences", "reconciliation_reviews", "artifacts",
	"compensating_controls", "issues", "human_tasks", "cycles", "schema_migrations",
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range tables {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("regcycle_test"),
			postgres.WithUsername("regcycle"),
			postgres.WithPassword("regcycle"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	for _, table := range tables {
		var exists bool

		err := p.DB().QueryRowContext(ctx,
			`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err := p.DB().QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 5, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func testCycle(tenantID string, createdAt time.Time) *models.Cycle {
	return &models.Cycle{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		ReportID:       "fry-14q",
		PeriodEnd:      time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:         models.CycleStatusActive,
		CurrentPhaseID: models.PhaseScoping,
		Phases: []*models.Phase{
			{ID: models.PhaseScoping, Status: models.PhaseStatusInProgress, Steps: []*models.Step{
				{ID: "define-scope", Status: models.StepStatusPending, IsRequired: true, Data: map[string]any{}},
			}},
		},
		CreatedBy:      "alice",
		CreatedAt:      createdAt,
		LastModifiedAt: createdAt,
	}
}

func TestCycleRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.CycleRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := testCycle("tenant-a", now.Add(-time.Hour))
	newer := testCycle("tenant-a", now)
	foreign := testCycle("tenant-b", now)

	for _, cycle := range []*models.Cycle{older, newer, foreign} {
		require.NoError(t, repo.Save(ctx, cycle))
	}

	older.Status = models.CycleStatusSubmissionReady
	older.Phases[0].Steps[0].Version = 3
	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, older))

	loaded, err := repo.GetByID(ctx, "tenant-a", older.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleStatusSubmissionReady, loaded.Status)
	assert.Equal(t, int64(3), loaded.Phases[0].Steps[0].Version)

	cycles, err := repo.List(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, newer.ID, cycles[0].ID)
	assert.Equal(t, older.ID, cycles[1].ID)

	_, err = repo.GetByID(ctx, "tenant-a", foreign.ID)
	assert.True(t, persistence.IsCycleNotFound(err))
}

func TestCycleRepository_RevisionConflict(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.CycleRepository()

	cycle := testCycle("tenant-a", time.Now().UTC())
	require.NoError(t, repo.Save(ctx, cycle))
	assert.Equal(t, int64(1), cycle.Revision)

	first, err := repo.GetByID(ctx, "tenant-a", cycle.ID)
	require.NoError(t, err)

	second, err := repo.GetByID(ctx, "tenant-a", cycle.ID)
	require.NoError(t, err)

	first.Status = models.CycleStatusSubmissionReady
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Revision)

	second.Status = models.CycleStatusArchived
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, persistence.IsRevisionConflict(err))
	assert.Equal(t, int64(1), second.Revision)

	loaded, err := repo.GetByID(ctx, "tenant-a", cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleStatusSubmissionReady, loaded.Status)
	assert.Equal(t, int64(2), loaded.Revision)
}

func TestTaskAndIssueRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	now := time.Now().UTC()

	task := &models.HumanTask{
		ID: "task-1", TenantID: "tenant-a", CycleID: "cycle-1", Type: models.TaskTypeAttestation,
		Title: "Attest", Status: models.TaskStatusPending, CreatedAt: now,
	}
	require.NoError(t, p.TaskRepository().Save(ctx, task))

	task.Decisions = append(task.Decisions, models.Decision{Outcome: models.DecisionApproved, DecidedBy: "cfo", DecidedAt: now})
	require.NoError(t, p.TaskRepository().Save(ctx, task))

	tasks, err := p.TaskRepository().ListByCycle(ctx, "tenant-a", "cycle-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].IsApproved())

	_, err = p.TaskRepository().GetByID(ctx, "tenant-b", "task-1")
	assert.True(t, persistence.IsTaskNotFound(err))

	issue := &models.Issue{ID: "issue-1", TenantID: "tenant-a", Title: "Late feed", Severity: "high", Status: models.IssueStatusOpen}
	require.NoError(t, p.IssueRepository().SaveIssue(ctx, issue))
	require.NoError(t, p.IssueRepository().SaveControl(ctx, &models.CompensatingControl{
		ID: "control-1", TenantID: "tenant-a", IssueID: "issue-1", Description: "Manual reconciliation",
		Owner: "ops", ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
	}))

	controls, err := p.IssueRepository().ControlsByIssue(ctx, "tenant-a", "issue-1")
	require.NoError(t, err)
	assert.Len(t, controls, 1)

	controls, err = p.IssueRepository().ControlsByIssue(ctx, "tenant-b", "issue-1")
	require.NoError(t, err)
	assert.Empty(t, controls)
}

func TestArtifactAndReviewRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	artifact := &models.Artifact{
		TenantID: "tenant-a", CycleID: "cycle-1", Type: "data_elements", Version: 1,
		Items: []models.ArtifactItem{{ID: "de-1", Name: "Total assets", Fields: map[string]any{"unit": "USD"}}},
	}
	require.NoError(t, p.ArtifactRepository().Save(ctx, artifact))

	artifact.Version = 2
	require.NoError(t, p.ArtifactRepository().Save(ctx, artifact))

	loaded, err := p.ArtifactRepository().Get(ctx, "tenant-a", "cycle-1", "data_elements")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, "USD", loaded.Items[0].Fields["unit"])

	_, err = p.ArtifactRepository().Get(ctx, "tenant-a", "cycle-1", "controls")
	assert.True(t, persistence.IsArtifactNotFound(err))

	review := &models.ReconciliationReview{ID: "review-1", TenantID: "tenant-a", CycleID: "cycle-1", Status: models.ReviewStatusPending}
	require.NoError(t, p.ReviewRepository().Save(ctx, review))

	_, err = p.ReviewRepository().GetByID(ctx, "tenant-b", "review-1")
	assert.True(t, persistence.IsReviewNotFound(err))
}

func TestPersonalDataIsolation(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.PreferenceRepository().Save(ctx, &models.Preference{
		TenantID: "tenant-a", UserID: "alice", Values: map[string]any{"density": "compact"},
	}))

	_, err := p.PreferenceRepository().Get(ctx, "tenant-a", "bob")
	assert.ErrorIs(t, err, persistence.ErrPreferenceNotFound)

	require.NoError(t, p.SessionRepository().Save(ctx, &models.SessionContext{
		TenantID: "tenant-a", SessionID: "s1", UserID: "alice", Values: map[string]any{"last_step": "define-scope"},
	}))

	_, err = p.SessionRepository().Get(ctx, "tenant-a", "s2")
	assert.ErrorIs(t, err, persistence.ErrSessionNotFound)

	require.NoError(t, p.SessionRepository().Delete(ctx, "tenant-a", "s1"))

	_, err = p.SessionRepository().Get(ctx, "tenant-a", "s1")
	assert.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func TestSnapshotStore_ConcurrentWriters(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	resolver := versioning.NewResolver(p.SnapshotStore(), clockwork.NewRealClock(), slog.Default())
	key := models.StepKey{TenantID: "tenant-a", CycleID: "cycle-1", StepID: "define-scope"}

	first, err := resolver.UpdateStepData(ctx, key, map[string]any{"entities": "bank"}, 0, "alice")
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, int64(1), first.NewVersion)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := resolver.UpdateStepData(ctx, key, map[string]any{"entities": uuid.New().String(), "writer": i}, 1, "writer")
			assert.NoError(t, err)

			if result != nil && result.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)

	snapshot, err := p.SnapshotStore().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snapshot.Version)

	otherTenant := key
	otherTenant.TenantID = "tenant-b"

	missing, err := p.SnapshotStore().Get(ctx, otherTenant)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSnapshotStore_ConflictsSharedAcrossResolvers(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC))
	nodeA := versioning.NewResolver(p.SnapshotStore(), clock, slog.Default(), versioning.WithConflictTTL(time.Hour))
	nodeB := versioning.NewResolver(p.SnapshotStore(), clock, slog.Default(), versioning.WithConflictTTL(time.Hour))
	key := models.StepKey{TenantID: "tenant-a", CycleID: "cycle-1", StepID: "identify-owners"}

	_, err := nodeA.UpdateStepData(ctx, key, map[string]any{"owners": "carol"}, 0, "carol")
	require.NoError(t, err)

	_, err = nodeA.UpdateStepData(ctx, key, map[string]any{"owners": "dave"}, 1, "dave")
	require.NoError(t, err)

	stale, err := nodeA.UpdateStepData(ctx, key, map[string]any{"owners": "erin"}, 1, "erin")
	require.NoError(t, err)
	require.NotNil(t, stale.Conflict)
	assert.Equal(t, clock.Now().Add(time.Hour), stale.Conflict.ExpiresAt)

	pending, err := nodeB.PendingConflicts(ctx, key)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stale.Conflict.ID, pending[0].ID)

	_, resolution, err := nodeB.ResolveConflictByID(ctx, stale.Conflict.ID, models.ResolutionKeepLocal, nil, "erin")
	require.NoError(t, err)
	assert.Equal(t, int64(3), resolution.NewVersion)

	pending, err = nodeA.PendingConflicts(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, pending)

	abandoned, err := nodeA.UpdateStepData(ctx, key, map[string]any{"owners": "frank"}, 1, "frank")
	require.NoError(t, err)
	require.NotNil(t, abandoned.Conflict)

	clock.Advance(time.Hour)

	_, err = nodeB.Conflict(ctx, abandoned.Conflict.ID)
	require.ErrorIs(t, err, versioning.ErrConflictNotFound)

	var rows int
	require.NoError(t, p.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM step_conflicts").Scan(&rows))
	assert.Zero(t, rows)
}
