package locking

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/regcycle/pkg/models"
)

// MemoryStore keeps locks in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[models.StepKey]*models.Lock
}

// NewMemoryStore creates an empty in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[models.StepKey]*models.Lock)}
}

func (s *MemoryStore) Acquire(
	_ context.Context,
	key models.StepKey,
	holderID string,
	now time.Time,
	ttl time.Duration,
) (*models.LockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[key]; ok && !existing.IsExpired(now) && existing.HolderID != holderID {
		held := *existing

		return &models.LockResult{Granted: false, ConflictingLock: &held}, nil
	}

	lock := &models.Lock{
		StepKey:    key,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.locks[key] = lock

	granted := *lock

	return &models.LockResult{Granted: true, Lock: &granted}, nil
}

func (s *MemoryStore) Release(_ context.Context, key models.StepKey, holderID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[key]
	if !ok || existing.HolderID != holderID {
		return false, nil
	}

	delete(s.locks, key)

	return !existing.IsExpired(now), nil
}

func (s *MemoryStore) Get(_ context.Context, key models.StepKey, now time.Time) (*models.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[key]
	if !ok || existing.IsExpired(now) {
		return nil, nil
	}

	lock := *existing

	return &lock, nil
}

func (s *MemoryStore) HeldBy(_ context.Context, tenantID, cycleID, holderID string, now time.Time) ([]models.StepKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []models.StepKey

	for key, lock := range s.locks {
		if key.TenantID == tenantID && key.CycleID == cycleID && lock.HolderID == holderID && !lock.IsExpired(now) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}
