package models

import "time"

// Lock is an advisory, time-bounded editing lock on a step.
type Lock struct {
	StepKey    StepKey   `json:"step_key"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the lock has lapsed at now.
func (l *Lock) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LockResult is the answer to a lock acquisition request.
type LockResult struct {
	Granted         bool  `json:"granted"`
	Lock            *Lock `json:"lock,omitempty"`
	ConflictingLock *Lock `json:"conflicting_lock,omitempty"`
}
