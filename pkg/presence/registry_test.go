package presence

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/mocks"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRegistry(t *testing.T, opts ...Option) (*Registry, *clockwork.FakeClock, *mocks.RecordingPublisher) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC))
	publisher := &mocks.RecordingPublisher{}

	opts = append([]Option{WithClock(clock), WithPublisher(publisher)}, opts...)
	registry := NewRegistry(slog.Default(), opts...)

	return registry, clock, publisher
}

func run(t *testing.T, registry *Registry) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go registry.Run(ctx)

	return ctx
}

func at(user, session, step string) models.Presence {
	return models.Presence{
		TenantID:  "tenant-a",
		CycleID:   "cycle-1",
		UserID:    user,
		SessionID: session,
		PhaseID:   models.PhaseDataCollection,
		StepID:    step,
	}
}

func TestRegistry_JoinMoveLeave(t *testing.T) {
	registry, _, publisher := startRegistry(t)
	ctx := run(t, registry)

	require.True(t, registry.Join(at("alice", "s1", "collect-ledger")))
	require.True(t, registry.Join(at("bob", "s2", "collect-ledger")))
	require.NoError(t, registry.Flush(ctx))

	viewers := registry.Viewers("tenant-a", "cycle-1", "collect-ledger")
	require.Len(t, viewers, 2)
	assert.Equal(t, "alice", viewers[0].UserID)
	assert.Equal(t, "bob", viewers[1].UserID)

	require.True(t, registry.Move(at("bob", "s2", "map-controls")))
	require.NoError(t, registry.Flush(ctx))

	assert.Len(t, registry.Viewers("tenant-a", "cycle-1", "collect-ledger"), 1)
	assert.Len(t, registry.Viewers("tenant-a", "cycle-1", "map-controls"), 1)

	require.True(t, registry.Leave(at("alice", "s1", "")))
	require.NoError(t, registry.Flush(ctx))

	active := registry.Active("tenant-a", "cycle-1")
	require.Len(t, active, 1)
	assert.Equal(t, "bob", active[0].UserID)

	assert.Equal(t, []events.EventType{
		events.UserJoinedEvent,
		events.UserJoinedEvent,
		events.UserMovedEvent,
		events.UserLeftEvent,
	}, publisher.Types())
}

func TestRegistry_MoveKeepsJoinedAt(t *testing.T) {
	registry, clock, _ := startRegistry(t)
	ctx := run(t, registry)

	joinedAt := clock.Now()

	registry.Join(at("alice", "s1", "collect-ledger"))
	require.NoError(t, registry.Flush(ctx))

	clock.Advance(time.Minute)
	registry.Move(at("alice", "s1", "map-controls"))
	require.NoError(t, registry.Flush(ctx))

	active := registry.Active("tenant-a", "cycle-1")
	require.Len(t, active, 1)
	assert.Equal(t, joinedAt, active[0].JoinedAt)
	assert.Equal(t, clock.Now(), active[0].LastActiveAt)
}

func TestRegistry_TenantIsolation(t *testing.T) {
	registry, _, _ := startRegistry(t)
	ctx := run(t, registry)

	other := at("mallory", "s9", "collect-ledger")
	other.TenantID = "tenant-b"

	registry.Join(at("alice", "s1", "collect-ledger"))
	registry.Join(other)
	require.NoError(t, registry.Flush(ctx))

	viewers := registry.Viewers("tenant-a", "cycle-1", "collect-ledger")
	require.Len(t, viewers, 1)
	assert.Equal(t, "alice", viewers[0].UserID)
}

func TestRegistry_SweepStaleSessions(t *testing.T) {
	registry, clock, publisher := startRegistry(t, WithStaleAfter(time.Minute))
	ctx := run(t, registry)

	var (
		mu   sync.Mutex
		left []string
	)

	registry.OnLeave(func(_ context.Context, p models.Presence) {
		mu.Lock()
		defer mu.Unlock()

		left = append(left, p.UserID)
	})

	registry.Join(at("alice", "s1", "collect-ledger"))
	registry.Join(at("bob", "s2", "collect-ledger"))
	require.NoError(t, registry.Flush(ctx))

	clock.Advance(45 * time.Second)
	registry.Heartbeat(at("bob", "s2", ""))
	require.NoError(t, registry.Flush(ctx))

	clock.Advance(15 * time.Second)

	// Stale sessions disappear from reads before the sweep runs.
	assert.Len(t, registry.Active("tenant-a", "cycle-1"), 1)

	removed, err := registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	mu.Lock()
	assert.Equal(t, []string{"alice"}, left)
	mu.Unlock()

	assert.Contains(t, publisher.Types(), events.UserLeftEvent)
}

func TestRegistry_LeaveHookWaitsForLastSession(t *testing.T) {
	registry, _, _ := startRegistry(t)

	hooks := 0
	registry.OnLeave(func(context.Context, models.Presence) { hooks++ })

	ctx := run(t, registry)

	registry.Join(at("alice", "laptop", "collect-ledger"))
	registry.Join(at("alice", "tablet", "collect-ledger"))
	registry.Leave(at("alice", "laptop", ""))
	require.NoError(t, registry.Flush(ctx))

	assert.Equal(t, 0, hooks)

	registry.Leave(at("alice", "tablet", ""))
	require.NoError(t, registry.Flush(ctx))

	assert.Equal(t, 1, hooks)
}

func TestRegistry_DropsUpdatesWhenFull(t *testing.T) {
	registry, _, _ := startRegistry(t, WithBufferSize(1))

	// Run is not started: the first update fills the buffer, the second is dropped.
	assert.True(t, registry.Join(at("alice", "s1", "collect-ledger")))
	assert.False(t, registry.Join(at("bob", "s2", "collect-ledger")))
}

func TestRegistry_SweepHonoursContext(t *testing.T) {
	registry, _, _ := startRegistry(t, WithBufferSize(1))
	registry.Join(at("alice", "s1", "collect-ledger"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := registry.Sweep(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
