package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/regcycle/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const defaultRedisRetries = 16

// RedisStore keeps snapshots as JSON values and serializes Apply per key with WATCH/MULTI. Pending
// conflicts are JSON values that Redis expires at their ExpiresAt, indexed by a set per step.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	logger     *slog.Logger
}

// NewRedisStore creates a Redis-backed version store. Keys are namespaced under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "regcycle:snapshots"
	}

	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxRetries: defaultRedisRetries,
		logger:     logger.With("module", "redis_version_store"),
	}
}

var (
	_ Store         = (*RedisStore)(nil)
	_ ConflictStore = (*RedisStore)(nil)
)

func (s *RedisStore) redisKey(key models.StepKey) string {
	return s.prefix + ":" + key.String()
}

func (s *RedisStore) conflictKey(conflictID string) string {
	return s.prefix + ":conflict:" + conflictID
}

func (s *RedisStore) stepConflictsKey(key models.StepKey) string {
	return s.prefix + ":conflicts:" + key.String()
}

// Get returns the current snapshot, or nil when the step was never written.
func (s *RedisStore) Get(ctx context.Context, key models.StepKey) (*models.VersionedSnapshot, error) {
	return s.read(ctx, s.client, s.redisKey(key))
}

func (s *RedisStore) read(ctx context.Context, client redis.Cmdable, redisKey string) (*models.VersionedSnapshot, error) {
	raw, err := client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read snapshot %s: %w", redisKey, err)
	}

	var snapshot models.VersionedSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", redisKey, err)
	}

	return &snapshot, nil
}

// Apply watches the key, runs fn on the current value and commits in a MULTI block.
// A concurrent writer aborts the transaction and fn is retried on the fresh value.
func (s *RedisStore) Apply(ctx context.Context, key models.StepKey, fn MutateFunc) (*models.VersionedSnapshot, error) {
	redisKey := s.redisKey(key)

	var result *models.VersionedSnapshot

	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if next == nil {
			result = current

			return nil
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, 0)

			return nil
		})
		if err != nil {
			return err
		}

		result = next

		return nil
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}

		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}

		s.logger.DebugContext(ctx, "snapshot transaction aborted, retrying", "key", redisKey, "attempt", attempt)
	}

	return nil, fmt.Errorf("%w: %s", ErrContention, redisKey)
}

// SaveConflict stores the conflict and adds it to its step's index. Both keys expire with the
// conflict; later conflicts of the step push the index expiry forward.
func (s *RedisStore) SaveConflict(ctx context.Context, conflict *models.ConflictRecord) error {
	payload, err := json.Marshal(conflict)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}

	key := s.conflictKey(conflict.ID)
	index := s.stepConflictsKey(conflict.StepKey)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, 0)
		pipe.SAdd(ctx, index, conflict.ID)

		if conflict.ExpiresAt.IsZero() {
			return nil
		}

		pipe.ExpireAt(ctx, key, conflict.ExpiresAt)

		if time.Now().Before(conflict.ExpiresAt) {
			pipe.ExpireAt(ctx, index, conflict.ExpiresAt)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store conflict %s: %w", conflict.ID, err)
	}

	return nil
}

func (s *RedisStore) GetConflict(ctx context.Context, conflictID string) (*models.ConflictRecord, error) {
	raw, err := s.client.Get(ctx, s.conflictKey(conflictID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
		}

		return nil, fmt.Errorf("failed to read conflict %s: %w", conflictID, err)
	}

	var conflict models.ConflictRecord
	if err := json.Unmarshal(raw, &conflict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict %s: %w", conflictID, err)
	}

	return &conflict, nil
}

// StepConflicts reads the step's index and drops ids whose conflict already expired.
func (s *RedisStore) StepConflicts(ctx context.Context, key models.StepKey) ([]*models.ConflictRecord, error) {
	index := s.stepConflictsKey(key)

	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts of %s: %w", key, err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.conflictKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conflicts of %s: %w", key, err)
	}

	var (
		conflicts []*models.ConflictRecord
		gone      []any
	)

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			gone = append(gone, ids[i])

			continue
		}

		var conflict models.ConflictRecord
		if err := json.Unmarshal([]byte(raw), &conflict); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict %s: %w", ids[i], err)
		}

		conflicts = append(conflicts, &conflict)
	}

	if len(gone) > 0 {
		if err := s.client.SRem(ctx, index, gone...).Err(); err != nil {
			s.logger.WarnContext(ctx, "failed to prune conflict index", "key", index, "error", err)
		}
	}

	return conflicts, nil
}

func (s *RedisStore) DeleteConflict(ctx context.Context, conflictID string) error {
	conflict, err := s.GetConflict(ctx, conflictID)
	if err != nil {
		if errors.Is(err, ErrConflictNotFound) {
			return nil
		}

		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.conflictKey(conflictID))
		pipe.SRem(ctx, s.stepConflictsKey(conflict.StepKey), conflictID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete conflict %s: %w", conflictID, err)
	}

	return nil
}

// DeleteExpiredConflicts has nothing to do: Redis expires conflicts itself and StepConflicts prunes
// the indexes.
func (s *RedisStore) DeleteExpiredConflicts(context.Context, time.Time) (int, error) {
	return 0, nil
}
