// Package locking grants advisory, time-bounded editing locks on steps.
//
// Locks are a UX aid: a denied lock never blocks a write. Lost updates are prevented by the
// version check in package versioning.
package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/regcycle/pkg/models"
)

// DefaultTTL is the lifetime of a freshly granted or refreshed lock.
const DefaultTTL = 5 * time.Minute

// ErrLockConflict indicates that another user holds a live lock on the step.
var ErrLockConflict = errors.New("step is locked by another user")

// ConflictError carries the lock that blocked an acquisition.
type ConflictError struct {
	Lock *models.Lock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("step %s is locked by %s until %s",
		e.Lock.StepKey.StepID, e.Lock.HolderID, e.Lock.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error {
	return ErrLockConflict
}

// Store persists locks. Acquire and Release must be atomic per key.
type Store interface {
	// Acquire grants the lock to holderID unless a different holder has a lock that is live at now.
	Acquire(ctx context.Context, key models.StepKey, holderID string, now time.Time, ttl time.Duration) (*models.LockResult, error)
	// Release removes the lock if holderID holds it and reports whether it did.
	Release(ctx context.Context, key models.StepKey, holderID string, now time.Time) (bool, error)
	// Get returns the live lock on key, or nil.
	Get(ctx context.Context, key models.StepKey, now time.Time) (*models.Lock, error)
	// HeldBy lists the steps of a cycle on which holderID has a live lock.
	HeldBy(ctx context.Context, tenantID, cycleID, holderID string, now time.Time) ([]models.StepKey, error)
}
