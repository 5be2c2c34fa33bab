// Package versioning implements per-step optimistic concurrency: a version store and the conflict
// resolver that decides whether a write is accepted, rejected as a conflict, or merged.
package versioning

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/regcycle/pkg/models"
)

var (
	// ErrConflictNotFound indicates the conflict was already resolved or never recorded.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrStaleResolution indicates the step moved past the conflict's remote version before the
	// resolution was applied. The caller has to re-check against the new version.
	ErrStaleResolution = errors.New("step changed since the conflict was detected")

	// ErrInvalidResolution indicates an unknown strategy or field choice.
	ErrInvalidResolution = errors.New("invalid conflict resolution")

	// ErrContention indicates the store gave up after repeated concurrent updates of the same key.
	ErrContention = errors.New("too many concurrent updates")
)

// MutateFunc receives the current snapshot (nil when the step was never written) and returns the
// snapshot to store, or nil to leave the store untouched.
type MutateFunc func(current *models.VersionedSnapshot) (*models.VersionedSnapshot, error)

// Store keeps the latest snapshot of every step. Apply must run fn and the write it returns as one
// critical section per key; fn may be invoked more than once when the backend retries.
type Store interface {
	Get(ctx context.Context, key models.StepKey) (*models.VersionedSnapshot, error)
	Apply(ctx context.Context, key models.StepKey, fn MutateFunc) (*models.VersionedSnapshot, error)
}

// ConflictStore keeps pending conflicts where every node of the service can reach them. Records past
// their ExpiresAt may still be returned until they are deleted; the resolver ignores them.
type ConflictStore interface {
	SaveConflict(ctx context.Context, conflict *models.ConflictRecord) error
	// GetConflict returns ErrConflictNotFound when no record has the id.
	GetConflict(ctx context.Context, conflictID string) (*models.ConflictRecord, error)
	StepConflicts(ctx context.Context, key models.StepKey) ([]*models.ConflictRecord, error)
	DeleteConflict(ctx context.Context, conflictID string) error
	// DeleteExpiredConflicts removes records whose ExpiresAt is not after now.
	DeleteExpiredConflicts(ctx context.Context, now time.Time) (int, error)
}
