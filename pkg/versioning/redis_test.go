package versioning_test

import (
	"sync"
	"testing"
	"time"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/testutil"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_UpdateAndConflict(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := t.Context()

	store := versioning.NewRedisStore(client, "test:snapshots", testLogger())
	resolver := versioning.NewResolver(store, clockwork.NewRealClock(), testLogger())

	missing, err := store.Get(ctx, stepKey)
	require.NoError(t, err)
	assert.Nil(t, missing)

	first, err := resolver.UpdateStepData(ctx, stepKey, map[string]any{"a": "one"}, 0, "user-1")
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, int64(1), first.NewVersion)

	second, err := resolver.UpdateStepData(ctx, stepKey, map[string]any{"a": "two"}, 1, "user-2")
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, int64(2), second.NewVersion)

	stale, err := resolver.UpdateStepData(ctx, stepKey, map[string]any{"a": "stale"}, 1, "user-1")
	require.NoError(t, err)
	require.NotNil(t, stale.Conflict)
	assert.Equal(t, []string{"a"}, stale.Conflict.FieldNames())

	stored, err := store.Get(ctx, stepKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, "two", stored.Data["a"])
}

func TestRedisStore_ConcurrentWritersSerialize(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := t.Context()

	store := versioning.NewRedisStore(client, "test:concurrent", testLogger())
	resolver := versioning.NewResolver(store, clockwork.NewRealClock(), testLogger())

	_, err := resolver.UpdateStepData(ctx, stepKey, map[string]any{"v": -1}, 0, "setup")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := resolver.UpdateStepData(ctx, stepKey, map[string]any{"v": i}, 1, "writer")
			if !assert.NoError(t, err) {
				return
			}

			if result.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)

	stored, err := store.Get(ctx, stepKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestRedisStore_ConflictsSharedAndExpiring(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := t.Context()

	store := versioning.NewRedisStore(client, "test:conflicts", testLogger())
	nodeA := versioning.NewResolver(store, clockwork.NewRealClock(), testLogger())
	nodeB := versioning.NewResolver(versioning.NewRedisStore(client, "test:conflicts", testLogger()), clockwork.NewRealClock(), testLogger())

	_, err := nodeA.UpdateStepData(ctx, stepKey, map[string]any{"a": "one"}, 0, "user-1")
	require.NoError(t, err)

	_, err = nodeA.UpdateStepData(ctx, stepKey, map[string]any{"a": "two"}, 1, "user-2")
	require.NoError(t, err)

	stale, err := nodeA.UpdateStepData(ctx, stepKey, map[string]any{"a": "stale"}, 1, "user-1")
	require.NoError(t, err)
	require.NotNil(t, stale.Conflict)

	ttl, err := client.TTL(ctx, "test:conflicts:conflict:"+stale.Conflict.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, versioning.DefaultConflictTTL-time.Minute)

	pending, err := nodeB.PendingConflicts(ctx, stepKey)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"a"}, pending[0].FieldNames())

	_, resolution, err := nodeB.ResolveConflictByID(ctx, stale.Conflict.ID, models.ResolutionKeepLocal, nil, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), resolution.NewVersion)

	pending, err = nodeA.PendingConflicts(ctx, stepKey)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// a conflict whose key expired is pruned from the step index
	gone := &models.ConflictRecord{ID: "expired-conflict", StepKey: stepKey, ExpiresAt: time.Now().Add(-time.Second)}
	require.NoError(t, store.SaveConflict(ctx, gone))

	pending, err = nodeA.PendingConflicts(ctx, stepKey)
	require.NoError(t, err)
	assert.Empty(t, pending)

	members, err := client.SMembers(ctx, "test:conflicts:conflicts:"+stepKey.String()).Result()
	require.NoError(t, err)
	assert.NotContains(t, members, "expired-conflict")
}
