// Package offline keeps HTTP-shaped writes on the client while the server cannot be reached and
// replays them once it can.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrActionNotFound is returned when discarding an action that is not queued.
	ErrActionNotFound = errors.New("offline action not found")
	// ErrInvalidAction is returned when an action has no URL or method.
	ErrInvalidAction = errors.New("invalid offline action")
)

// Queue is an ordered, durable list of deferred actions. An action leaves the queue only when it was
// delivered successfully or when it is discarded explicitly.
type Queue struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
	mu     sync.Mutex
}

type QueueOption func(*Queue)

func WithClock(clock clockwork.Clock) QueueOption {
	return func(q *Queue) {
		q.clock = clock
	}
}

func NewQueue(store Store, logger *slog.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		store:  store,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("module", "offline_queue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue appends an action and returns the stored copy.
func (q *Queue) Enqueue(ctx context.Context, action models.OfflineAction) (*models.OfflineAction, error) {
	if action.URL == "" || action.Method == "" {
		return nil, fmt.Errorf("%w: url and method are required", ErrInvalidAction)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	action.ID = uuid.New().String()
	action.CreatedAt = q.clock.Now().UTC()
	action.Attempts = 0
	action.LastError = ""
	action.Conflicted = false

	actions = append(actions, &action)

	if err := q.store.Save(ctx, actions); err != nil {
		return nil, err
	}

	q.logger.InfoContext(ctx, "action queued", "action_id", action.ID, "method", action.Method, "url", action.URL)

	return &action, nil
}

// Pending returns every queued action in insertion order, conflicted ones included.
func (q *Queue) Pending(ctx context.Context) ([]*models.OfflineAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.Load(ctx)
}

// Discard drops an action, typically after its conflict was resolved.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.store.Load(ctx)
	if err != nil {
		return err
	}

	i := slices.IndexFunc(actions, func(a *models.OfflineAction) bool { return a.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}

	if err := q.store.Save(ctx, slices.Delete(actions, i, i+1)); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "action discarded", "action_id", id)

	return nil
}

// settle replaces an action with its updated state, or removes it when delivered is true.
func (q *Queue) settle(ctx context.Context, action *models.OfflineAction, delivered bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.store.Load(ctx)
	if err != nil {
		return err
	}

	i := slices.IndexFunc(actions, func(a *models.OfflineAction) bool { return a.ID == action.ID })
	if i < 0 {
		// discarded while it was being sent
		return nil
	}

	if delivered {
		actions = slices.Delete(actions, i, i+1)
	} else {
		actions[i] = action
	}

	return q.store.Save(ctx, actions)
}
