package locking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/mocks"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var stepKey = models.StepKey{TenantID: "tenant-a", CycleID: "cycle-1", StepID: "collect-ledger"}

func newTestManager(t *testing.T) (*Manager, *clockwork.FakeClock, *mocks.RecordingPublisher) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC))
	publisher := &mocks.RecordingPublisher{}

	manager := NewManager(NewMemoryStore(), slog.Default(), WithClock(clock), WithPublisher(publisher))

	return manager, clock, publisher
}

func TestManager_AcquireLock_Grants(t *testing.T) {
	manager, clock, publisher := newTestManager(t)
	ctx := context.Background()

	result, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)
	require.True(t, result.Granted)

	assert.Equal(t, "alice", result.Lock.HolderID)
	assert.Equal(t, clock.Now(), result.Lock.AcquiredAt)
	assert.Equal(t, clock.Now().Add(DefaultTTL), result.Lock.ExpiresAt)
	assert.Equal(t, []events.EventType{events.StepLockedEvent}, publisher.Types())
}

func TestManager_AcquireLock_DeniesOtherUser(t *testing.T) {
	manager, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)

	clock.Advance(time.Minute)

	result, err := manager.AcquireLock(ctx, stepKey, "bob")
	require.NoError(t, err)

	assert.False(t, result.Granted)
	assert.Nil(t, result.Lock)
	require.NotNil(t, result.ConflictingLock)
	assert.Equal(t, "alice", result.ConflictingLock.HolderID)
	assert.Equal(t, clock.Now().Add(4*time.Minute), result.ConflictingLock.ExpiresAt)
}

func TestManager_AcquireLock_HolderRefreshes(t *testing.T) {
	manager, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)

	result, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)
	require.True(t, result.Granted)
	assert.Equal(t, clock.Now().Add(DefaultTTL), result.Lock.ExpiresAt)

	// Past the original expiry, the refreshed lock still holds.
	clock.Advance(3 * time.Minute)

	denied, err := manager.AcquireLock(ctx, stepKey, "bob")
	require.NoError(t, err)
	assert.False(t, denied.Granted)
}

func TestManager_AcquireLock_AfterExpiry(t *testing.T) {
	manager, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)

	clock.Advance(DefaultTTL)

	active, err := manager.ActiveLock(ctx, stepKey)
	require.NoError(t, err)
	assert.Nil(t, active)

	result, err := manager.AcquireLock(ctx, stepKey, "bob")
	require.NoError(t, err)
	require.True(t, result.Granted)
	assert.Equal(t, "bob", result.Lock.HolderID)
}

func TestManager_AcquireLock_Exclusive(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []string
	)

	for _, user := range []string{"alice", "bob", "carol", "dave", "erin", "frank"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := manager.AcquireLock(ctx, stepKey, user)
			assert.NoError(t, err)

			if result != nil && result.Granted {
				mu.Lock()
				granted = append(granted, user)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Len(t, granted, 1)

	active, err := manager.ActiveLock(ctx, stepKey)
	require.NoError(t, err)
	assert.Equal(t, granted[0], active.HolderID)
}

func TestManager_ReleaseLock(t *testing.T) {
	manager, _, publisher := newTestManager(t)
	ctx := context.Background()

	_, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)

	// Someone else's release is a no-op.
	require.NoError(t, manager.ReleaseLock(ctx, stepKey, "bob"))

	active, err := manager.ActiveLock(ctx, stepKey)
	require.NoError(t, err)
	require.NotNil(t, active)

	require.NoError(t, manager.ReleaseLock(ctx, stepKey, "alice"))

	active, err = manager.ActiveLock(ctx, stepKey)
	require.NoError(t, err)
	assert.Nil(t, active)

	// Releasing twice is a no-op too.
	require.NoError(t, manager.ReleaseLock(ctx, stepKey, "alice"))

	assert.Equal(t, []events.EventType{events.StepLockedEvent, events.StepUnlockedEvent}, publisher.Types())
}

func TestManager_ReleaseLock_Expired(t *testing.T) {
	manager, clock, publisher := newTestManager(t)
	ctx := context.Background()

	_, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)

	clock.Advance(DefaultTTL + time.Second)

	require.NoError(t, manager.ReleaseLock(ctx, stepKey, "alice"))
	assert.Equal(t, []events.EventType{events.StepLockedEvent}, publisher.Types())
}

func TestManager_ReleaseUserLocks(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	other := models.StepKey{TenantID: "tenant-a", CycleID: "cycle-1", StepID: "map-controls"}
	otherCycle := models.StepKey{TenantID: "tenant-a", CycleID: "cycle-2", StepID: "collect-ledger"}

	for _, key := range []models.StepKey{stepKey, other, otherCycle} {
		result, err := manager.AcquireLock(ctx, key, "alice")
		require.NoError(t, err)
		require.True(t, result.Granted)
	}

	released, err := manager.ReleaseUserLocks(ctx, "tenant-a", "cycle-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	result, err := manager.AcquireLock(ctx, stepKey, "bob")
	require.NoError(t, err)
	assert.True(t, result.Granted)

	active, err := manager.ActiveLock(ctx, otherCycle)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "alice", active.HolderID)
}

func TestManager_TenantIsolation(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.AcquireLock(ctx, stepKey, "alice")
	require.NoError(t, err)

	otherTenant := stepKey
	otherTenant.TenantID = "tenant-b"

	result, err := manager.AcquireLock(ctx, otherTenant, "bob")
	require.NoError(t, err)
	assert.True(t, result.Granted)
}

func TestManager_PublishFailureDoesNotDenyLock(t *testing.T) {
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, "tenant-a/cycle-1", mock.Anything).Return(errors.New("broker down"))

	manager := NewManager(NewMemoryStore(), slog.Default(), WithPublisher(publisher))

	result, err := manager.AcquireLock(context.Background(), stepKey, "alice")
	require.NoError(t, err)
	assert.True(t, result.Granted)
	publisher.AssertExpectations(t)
}

func TestConflictError(t *testing.T) {
	err := &ConflictError{Lock: &models.Lock{
		StepKey:   stepKey,
		HolderID:  "alice",
		ExpiresAt: time.Date(2026, 3, 31, 9, 5, 0, 0, time.UTC),
	}}

	assert.ErrorIs(t, err, ErrLockConflict)
	assert.Equal(t, "step collect-ledger is locked by alice until 2026-03-31T09:05:00Z", err.Error())
}
