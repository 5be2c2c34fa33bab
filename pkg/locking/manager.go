package locking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/regcycle/pkg/eventbus"
	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/jonboulle/clockwork"
)

// Manager grants and releases step locks and announces lock changes.
type Manager struct {
	store     Store
	clock     clockwork.Clock
	ttl       time.Duration
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

func NewManager(store Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		clock:     clockwork.NewRealClock(),
		ttl:       DefaultTTL,
		publisher: eventbus.Nop{},
		logger:    logger.With("module", "lock_manager"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// AcquireLock grants the step to userID if no other user holds a live lock on it. A holder acquiring
// again refreshes the expiry.
func (m *Manager) AcquireLock(ctx context.Context, key models.StepKey, userID string) (*models.LockResult, error) {
	now := m.clock.Now()

	result, err := m.store.Acquire(ctx, key, userID, now, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", key, err)
	}

	if !result.Granted {
		m.logger.DebugContext(ctx, "lock denied",
			"step", key.String(),
			"user_id", userID,
			"holder_id", result.ConflictingLock.HolderID,
			"expires_at", result.ConflictingLock.ExpiresAt)

		return result, nil
	}

	m.publish(ctx, events.StepLocked{
		BaseEvent: events.NewBaseEvent(events.StepLockedEvent, key.TenantID, key.CycleID, now),
		Payload: events.LockPayload{
			StepID:    key.StepID,
			HolderID:  userID,
			ExpiresAt: result.Lock.ExpiresAt,
		},
	})

	return result, nil
}

// ReleaseLock releases the lock if userID holds it. Releasing a lock that is not held, or has already
// expired, does nothing.
func (m *Manager) ReleaseLock(ctx context.Context, key models.StepKey, userID string) error {
	now := m.clock.Now()

	released, err := m.store.Release(ctx, key, userID, now)
	if err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", key, err)
	}

	if released {
		m.publishUnlocked(ctx, key, userID, now)
	}

	return nil
}

// ActiveLock returns the live lock on the step, or nil.
func (m *Manager) ActiveLock(ctx context.Context, key models.StepKey) (*models.Lock, error) {
	return m.store.Get(ctx, key, m.clock.Now())
}

// ReleaseUserLocks drops every lock userID holds in a cycle and returns how many were released.
func (m *Manager) ReleaseUserLocks(ctx context.Context, tenantID, cycleID, userID string) (int, error) {
	now := m.clock.Now()

	keys, err := m.store.HeldBy(ctx, tenantID, cycleID, userID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list locks of %s: %w", userID, err)
	}

	released := 0

	for _, key := range keys {
		ok, err := m.store.Release(ctx, key, userID, now)
		if err != nil {
			return released, fmt.Errorf("failed to release lock on %s: %w", key, err)
		}

		if ok {
			released++

			m.publishUnlocked(ctx, key, userID, now)
		}
	}

	if released > 0 {
		m.logger.InfoContext(ctx, "released locks of departed user",
			"tenant_id", tenantID, "cycle_id", cycleID, "user_id", userID, "count", released)
	}

	return released, nil
}

func (m *Manager) publishUnlocked(ctx context.Context, key models.StepKey, userID string, now time.Time) {
	m.publish(ctx, events.StepUnlocked{
		BaseEvent: events.NewBaseEvent(events.StepUnlockedEvent, key.TenantID, key.CycleID, now),
		Payload:   events.LockPayload{StepID: key.StepID, HolderID: userID},
	})
}

func (m *Manager) publish(ctx context.Context, event interface {
	eventbus.Event
	Key() string
}) {
	if err := m.publisher.Publish(ctx, event.Key(), event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish lock event", "type", event.GetType(), "error", err)
	}
}
