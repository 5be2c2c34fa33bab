// Package presence tracks which users are looking at which phase and step of a cycle.
//
// The Registry has a single writer: Run applies updates received over a buffered channel. Callers
// never block on presence; an update that does not fit in the buffer is dropped and only delays
// staleness detection.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/regcycle/pkg/eventbus"
	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultStaleAfter = 2 * time.Minute
	DefaultBufferSize = 256
)

// LeaveHook runs when the last session of a user leaves a cycle, explicitly or by going stale.
type LeaveHook func(ctx context.Context, presence models.Presence)

type updateKind int

const (
	updateJoin updateKind = iota
	updateMove
	updateHeartbeat
	updateLeave
	updateSweep
	updateFlush
)

type update struct {
	kind     updateKind
	presence models.Presence
	done     chan int
}

type entryKey struct {
	tenantID  string
	cycleID   string
	userID    string
	sessionID string
}

func keyOf(p models.Presence) entryKey {
	return entryKey{tenantID: p.TenantID, cycleID: p.CycleID, userID: p.UserID, sessionID: p.SessionID}
}

type Registry struct {
	clock      clockwork.Clock
	staleAfter time.Duration
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
	updates    chan update

	mu      sync.RWMutex
	entries map[entryKey]models.Presence
	hooks   []LeaveHook
}

type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(r *Registry) {
		r.publisher = publisher
	}
}

func WithBufferSize(size int) Option {
	return func(r *Registry) {
		if size > 0 {
			r.updates = make(chan update, size)
		}
	}
}

func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		clock:      clockwork.NewRealClock(),
		staleAfter: DefaultStaleAfter,
		publisher:  eventbus.Nop{},
		logger:     logger.With("module", "presence"),
		updates:    make(chan update, DefaultBufferSize),
		entries:    make(map[entryKey]models.Presence),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// OnLeave registers a hook. Hooks must be registered before Run starts.
func (r *Registry) OnLeave(hook LeaveHook) {
	r.hooks = append(r.hooks, hook)
}

// Run applies presence updates until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "presence registry started", "stale_after", r.staleAfter)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "presence registry stopped")

			return
		case u := <-r.updates:
			r.apply(ctx, u)
		}
	}
}

func (r *Registry) Join(p models.Presence) bool {
	return r.send(update{kind: updateJoin, presence: p})
}

func (r *Registry) Move(p models.Presence) bool {
	return r.send(update{kind: updateMove, presence: p})
}

func (r *Registry) Heartbeat(p models.Presence) bool {
	return r.send(update{kind: updateHeartbeat, presence: p})
}

func (r *Registry) Leave(p models.Presence) bool {
	return r.send(update{kind: updateLeave, presence: p})
}

func (r *Registry) send(u update) bool {
	select {
	case r.updates <- u:
		return true
	default:
		r.logger.Warn("presence update dropped", "user_id", u.presence.UserID, "cycle_id", u.presence.CycleID)

		return false
	}
}

// Sweep removes stale sessions and returns how many were removed. It waits for Run to process it.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	return r.request(ctx, updateSweep)
}

// Flush returns once every update queued before it has been applied.
func (r *Registry) Flush(ctx context.Context) error {
	_, err := r.request(ctx, updateFlush)

	return err
}

func (r *Registry) request(ctx context.Context, kind updateKind) (int, error) {
	done := make(chan int, 1)

	select {
	case r.updates <- update{kind: kind, done: done}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case n := <-done:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Viewers returns the live sessions positioned on a step, ordered by user.
func (r *Registry) Viewers(tenantID, cycleID, stepID string) []models.Presence {
	return r.collect(tenantID, cycleID, func(p models.Presence) bool {
		return p.StepID == stepID
	})
}

// Active returns the live sessions of a cycle, ordered by user.
func (r *Registry) Active(tenantID, cycleID string) []models.Presence {
	return r.collect(tenantID, cycleID, func(models.Presence) bool { return true })
}

func (r *Registry) collect(tenantID, cycleID string, keep func(models.Presence) bool) []models.Presence {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.Presence

	for key, p := range r.entries {
		if key.tenantID != tenantID || key.cycleID != cycleID || r.isStale(p, now) || !keep(p) {
			continue
		}

		result = append(result, p)
	}

	slices.SortFunc(result, func(a, b models.Presence) int {
		if c := strings.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}

		return strings.Compare(a.SessionID, b.SessionID)
	})

	return result
}

func (r *Registry) isStale(p models.Presence, now time.Time) bool {
	return now.Sub(p.LastActiveAt) >= r.staleAfter
}

func (r *Registry) apply(ctx context.Context, u update) {
	now := r.clock.Now()

	switch u.kind {
	case updateJoin, updateMove:
		r.upsert(ctx, u.presence, now)
	case updateHeartbeat:
		r.mu.Lock()
		if p, ok := r.entries[keyOf(u.presence)]; ok {
			p.LastActiveAt = now
			r.entries[keyOf(u.presence)] = p
		}
		r.mu.Unlock()
	case updateLeave:
		r.mu.Lock()
		p, ok := r.entries[keyOf(u.presence)]
		delete(r.entries, keyOf(u.presence))
		r.mu.Unlock()

		if ok {
			r.departed(ctx, p, now)
		}
	case updateSweep:
		u.done <- r.sweep(ctx, now)
	case updateFlush:
		u.done <- 0
	}
}

func (r *Registry) upsert(ctx context.Context, p models.Presence, now time.Time) {
	key := keyOf(p)

	r.mu.Lock()
	existing, ok := r.entries[key]

	p.LastActiveAt = now
	if ok {
		p.JoinedAt = existing.JoinedAt
	} else {
		p.JoinedAt = now
	}

	r.entries[key] = p
	r.mu.Unlock()

	payload := events.PresencePayload{
		UserID:    p.UserID,
		SessionID: p.SessionID,
		PhaseID:   string(p.PhaseID),
		StepID:    p.StepID,
	}

	if !ok {
		r.publish(ctx, events.UserJoined{
			BaseEvent: events.NewBaseEvent(events.UserJoinedEvent, p.TenantID, p.CycleID, now),
			Payload:   payload,
		})

		return
	}

	if existing.PhaseID != p.PhaseID || existing.StepID != p.StepID {
		r.publish(ctx, events.UserMoved{
			BaseEvent: events.NewBaseEvent(events.UserMovedEvent, p.TenantID, p.CycleID, now),
			Payload:   payload,
		})
	}
}

func (r *Registry) sweep(ctx context.Context, now time.Time) int {
	r.mu.Lock()

	var stale []models.Presence

	for key, p := range r.entries {
		if r.isStale(p, now) {
			stale = append(stale, p)
			delete(r.entries, key)
		}
	}

	r.mu.Unlock()

	for _, p := range stale {
		r.departed(ctx, p, now)
	}

	if len(stale) > 0 {
		r.logger.InfoContext(ctx, "swept stale sessions", "count", len(stale))
	}

	return len(stale)
}

// departed announces a removed session and, when it was the user's last one in the cycle, runs the
// leave hooks.
func (r *Registry) departed(ctx context.Context, p models.Presence, now time.Time) {
	r.publish(ctx, events.UserLeft{
		BaseEvent: events.NewBaseEvent(events.UserLeftEvent, p.TenantID, p.CycleID, now),
		Payload:   events.PresencePayload{UserID: p.UserID, SessionID: p.SessionID},
	})

	r.mu.RLock()
	for key := range r.entries {
		if key.tenantID == p.TenantID && key.cycleID == p.CycleID && key.userID == p.UserID {
			r.mu.RUnlock()

			return
		}
	}
	r.mu.RUnlock()

	for _, hook := range r.hooks {
		hook(ctx, p)
	}
}

func (r *Registry) publish(ctx context.Context, event interface {
	eventbus.Event
	Key() string
}) {
	if err := r.publisher.Publish(ctx, event.Key(), event); err != nil {
		r.logger.WarnContext(ctx, "failed to publish presence event", "type", event.GetType(), "error", err)
	}
}
