package locking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/dukex/regcycle/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// tokenLength is fixed so that no holder token is a prefix of another.
const tokenLength = 32

// RedisStore keeps locks in Redis through redislock. The lock token is derived from the holder, so a
// holder re-obtaining its own lock refreshes it; the lock metadata carries the models.Lock.
type RedisStore struct {
	client redis.UniversalClient
	locker *redislock.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed lock store.
func NewRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "regcycle:locks"
	}

	return &RedisStore{
		client: client,
		locker: redislock.New(client),
		prefix: prefix,
		logger: logger.With("module", "redis_lock_store"),
	}
}

func (s *RedisStore) lockKey(key models.StepKey) string {
	return s.prefix + ":" + key.String()
}

func (s *RedisStore) holderKey(tenantID, cycleID, holderID string) string {
	return s.prefix + ":held:" + tenantID + "/" + cycleID + "/" + holderID
}

func holderToken(tenantID, holderID string) string {
	sum := sha256.Sum256([]byte(tenantID + "\x00" + holderID))

	return hex.EncodeToString(sum[:])[:tokenLength]
}

func (s *RedisStore) Acquire(
	ctx context.Context,
	key models.StepKey,
	holderID string,
	now time.Time,
	ttl time.Duration,
) (*models.LockResult, error) {
	lock := &models.Lock{
		StepKey:    key,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	metadata, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock metadata: %w", err)
	}

	// The holder of a conflicting lock can vanish between Obtain and Get; retry a few times.
	for range 3 {
		_, err = s.locker.Obtain(ctx, s.lockKey(key), ttl, &redislock.Options{
			Token:    holderToken(key.TenantID, holderID),
			Metadata: string(metadata),
		})
		if err == nil {
			holderSet := s.holderKey(key.TenantID, key.CycleID, holderID)

			pipe := s.client.TxPipeline()
			pipe.SAdd(ctx, holderSet, key.StepID)
			pipe.Expire(ctx, holderSet, ttl)

			if _, err := pipe.Exec(ctx); err != nil {
				s.logger.WarnContext(ctx, "failed to index lock by holder", "step", key.String(), "error", err)
			}

			return &models.LockResult{Granted: true, Lock: lock}, nil
		}

		if !errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
		}

		held, err := s.Get(ctx, key, now)
		if err != nil {
			return nil, err
		}

		if held != nil {
			return &models.LockResult{Granted: false, ConflictingLock: held}, nil
		}
	}

	return nil, fmt.Errorf("failed to obtain lock %s: lock kept changing hands", key)
}

func (s *RedisStore) Release(ctx context.Context, key models.StepKey, holderID string, now time.Time) (bool, error) {
	held, err := s.Get(ctx, key, now)
	if err != nil {
		return false, err
	}

	if held == nil || held.HolderID != holderID {
		return false, nil
	}

	// Re-obtaining with the holder's token yields a handle that redislock lets us release.
	lock, err := s.locker.Obtain(ctx, s.lockKey(key), time.Second, &redislock.Options{
		Token: holderToken(key.TenantID, holderID),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return false, nil
		}

		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	s.client.SRem(ctx, s.holderKey(key.TenantID, key.CycleID, holderID), key.StepID)

	return true, nil
}

func (s *RedisStore) Get(ctx context.Context, key models.StepKey, now time.Time) (*models.Lock, error) {
	value, err := s.client.Get(ctx, s.lockKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read lock %s: %w", key, err)
	}

	if len(value) < tokenLength {
		return nil, fmt.Errorf("malformed lock value for %s", key)
	}

	var lock models.Lock
	if err := json.Unmarshal([]byte(value[tokenLength:]), &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock %s: %w", key, err)
	}

	if lock.IsExpired(now) {
		return nil, nil
	}

	return &lock, nil
}

func (s *RedisStore) HeldBy(ctx context.Context, tenantID, cycleID, holderID string, now time.Time) ([]models.StepKey, error) {
	stepIDs, err := s.client.SMembers(ctx, s.holderKey(tenantID, cycleID, holderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list locks held by %s: %w", holderID, err)
	}

	var keys []models.StepKey

	for _, stepID := range stepIDs {
		key := models.StepKey{TenantID: tenantID, CycleID: cycleID, StepID: stepID}

		lock, err := s.Get(ctx, key, now)
		if err != nil {
			return nil, err
		}

		if lock != nil && lock.HolderID == holderID {
			keys = append(keys, key)
		}
	}

	return keys, nil
}
