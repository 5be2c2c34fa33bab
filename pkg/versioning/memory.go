package versioning

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dukex/regcycle/pkg/canonical"
	"github.com/dukex/regcycle/pkg/models"
)

// MemoryStore is an in-process Store with one mutex per step key. It also keeps pending conflicts.
type MemoryStore struct {
	mu        sync.Mutex
	keys      map[models.StepKey]*sync.Mutex
	snapshots map[models.StepKey]*models.VersionedSnapshot
	conflicts map[string]*models.ConflictRecord
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ ConflictStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory version store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:      make(map[models.StepKey]*sync.Mutex),
		snapshots: make(map[models.StepKey]*models.VersionedSnapshot),
		conflicts: make(map[string]*models.ConflictRecord),
	}
}

func (s *MemoryStore) keyLock(key models.StepKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		s.keys[key] = lock
	}

	return lock
}

func (s *MemoryStore) load(key models.StepKey) *models.VersionedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copySnapshot(s.snapshots[key])
}

// Get returns a copy of the current snapshot, or nil.
func (s *MemoryStore) Get(_ context.Context, key models.StepKey) (*models.VersionedSnapshot, error) {
	return s.load(key), nil
}

// Apply runs fn while holding the key's mutex.
func (s *MemoryStore) Apply(_ context.Context, key models.StepKey, fn MutateFunc) (*models.VersionedSnapshot, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	current := s.load(key)

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	if next == nil {
		return current, nil
	}

	s.mu.Lock()
	s.snapshots[key] = copySnapshot(next)
	s.mu.Unlock()

	return copySnapshot(next), nil
}

func copySnapshot(snapshot *models.VersionedSnapshot) *models.VersionedSnapshot {
	if snapshot == nil {
		return nil
	}

	out := *snapshot
	out.Data = canonical.Clone(snapshot.Data)

	return &out
}

func (s *MemoryStore) SaveConflict(_ context.Context, conflict *models.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conflicts[conflict.ID] = copyConflict(conflict)

	return nil
}

func (s *MemoryStore) GetConflict(_ context.Context, conflictID string) (*models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conflict, ok := s.conflicts[conflictID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}

	return copyConflict(conflict), nil
}

func (s *MemoryStore) StepConflicts(_ context.Context, key models.StepKey) ([]*models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conflicts []*models.ConflictRecord

	for _, conflict := range s.conflicts {
		if conflict.StepKey == key {
			conflicts = append(conflicts, copyConflict(conflict))
		}
	}

	return conflicts, nil
}

func (s *MemoryStore) DeleteConflict(_ context.Context, conflictID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conflicts, conflictID)

	return nil
}

func (s *MemoryStore) DeleteExpiredConflicts(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for id, conflict := range s.conflicts {
		if !conflict.ExpiresAt.IsZero() && !now.Before(conflict.ExpiresAt) {
			delete(s.conflicts, id)
			removed++
		}
	}

	return removed, nil
}

func copyConflict(conflict *models.ConflictRecord) *models.ConflictRecord {
	out := *conflict
	out.Local.Data = canonical.Clone(conflict.Local.Data)
	out.Remote.Data = canonical.Clone(conflict.Remote.Data)
	out.Fields = slices.Clone(conflict.Fields)

	return &out
}
