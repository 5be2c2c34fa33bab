package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/mocks"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/persistence/file"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var (
	alice   = models.Scope{TenantID: "tenant-a", UserID: "alice", SessionID: "session-alice"}
	bob     = models.Scope{TenantID: "tenant-a", UserID: "bob", SessionID: "session-bob"}
	mallory = models.Scope{TenantID: "tenant-b", UserID: "mallory", SessionID: "session-mallory"}

	periodEnd = time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
)

// validData satisfies the required fields of every required step of the default template.
var validData = map[string]map[string]any{
	"define-scope":          {"entities": []any{"bank-a"}, "frameworks": []any{"basel-iii"}},
	"identify-owners":       {"owners": []any{"carol"}},
	"collect-data-elements": {"source": "general-ledger"},
	"set-materiality":       {"threshold": 5.0},
	"run-quality-checks":    {"checks_passed": true},
	"review-findings":       {"summary": "no material findings"},
	"prepare-attestation":   {"statement": "figures are complete and accurate"},
	"final-package":         {"package_reference": "pkg-2026-q4"},
}

type fixture struct {
	clock     *clockwork.FakeClock
	store     persistence.Persistence
	resolver  *versioning.Resolver
	locks     *locking.Manager
	published *mocks.RecordingPublisher
	cycles    *Cycle
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC)),
		store:     file.NewPersistence(t.TempDir()),
		published: &mocks.RecordingPublisher{},
	}

	f.resolver = versioning.NewResolver(versioning.NewMemoryStore(), f.clock, slog.Default())
	f.locks = locking.NewManager(locking.NewMemoryStore(), slog.Default(),
		locking.WithClock(f.clock), locking.WithPublisher(f.published))

	opts = append([]Option{WithClock(f.clock), WithPublisher(f.published)}, opts...)
	f.cycles = NewCycle(f.store, f.resolver, f.locks, slog.Default(), opts...)

	return f
}

func (f *fixture) start(t *testing.T) *models.Cycle {
	t.Helper()

	cycle, err := f.cycles.StartCycle(context.Background(), alice, "report-42", periodEnd)
	require.NoError(t, err)

	return cycle
}

// completeCurrentPhase fills and completes every required step of the current phase.
func (f *fixture) completeCurrentPhase(t *testing.T, cycleID string) {
	t.Helper()

	ctx := context.Background()

	cycle, err := f.cycles.FetchCycle(ctx, alice, cycleID)
	require.NoError(t, err)

	phase := cycle.Phase(cycle.CurrentPhaseID)
	require.NotNil(t, phase)

	for _, step := range phase.Steps {
		if !step.IsRequired {
			continue
		}

		update, err := f.cycles.UpdateStep(ctx, alice, cycleID, step.ID, validData[step.ID], step.Version)
		require.NoError(t, err)
		require.True(t, update.Success, "update of %s", step.ID)

		_, err = f.cycles.CompleteStep(ctx, alice, cycleID, step.ID)
		require.NoError(t, err)
	}
}

// advanceTo completes phases until the cycle's current phase is target.
func (f *fixture) advanceTo(t *testing.T, cycleID string, target models.PhaseID) {
	t.Helper()

	ctx := context.Background()

	for {
		cycle, err := f.cycles.FetchCycle(ctx, alice, cycleID)
		require.NoError(t, err)

		if cycle.CurrentPhaseID == target {
			return
		}

		f.completeCurrentPhase(t, cycleID)

		_, err = f.cycles.AdvancePhase(ctx, alice, cycleID)
		require.NoError(t, err)
	}
}

func (f *fixture) decide(t *testing.T, cycle *models.Cycle, outcome models.DecisionOutcome) {
	t.Helper()

	_, err := f.cycles.Tasks().CompleteHumanTask(context.Background(), bob, cycle.AttestationTaskID, outcome, "reviewed")
	require.NoError(t, err)
}
