// Package autosave debounces step edits on the client and keeps them safe across outages and session
// expiry.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/regcycle/pkg/client"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/offline"
	"github.com/jonboulle/clockwork"
)

const DefaultDebounce = 2 * time.Second

// ErrSessionExpired is returned by Schedule between Expire and Reauthenticate.
var ErrSessionExpired = errors.New("session expired")

// Writer sends step writes to the API.
type Writer interface {
	UpdateStep(ctx context.Context, cycleID, stepID string, data map[string]any, expectedVersion int64) (*client.StepUpdate, error)
	StepUpdateAction(cycleID, stepID string, data map[string]any, expectedVersion int64) (*models.OfflineAction, error)
}

// Result is the outcome of one saved write. Exactly one of Update, Queued and Err is set.
type Result struct {
	CycleID string
	StepID  string
	Update  *client.StepUpdate
	Queued  *models.OfflineAction
	Err     error
}

type stepRef struct {
	cycleID string
	stepID  string
}

type pendingWrite struct {
	data    map[string]any
	version int64
	timer   clockwork.Timer
}

type Saver struct {
	writer   Writer
	queue    *offline.Queue
	replayer *offline.Replayer
	clock    clockwork.Clock
	debounce time.Duration
	onResult func(Result)
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[stepRef]*pendingWrite
	expired bool
}

type Option func(*Saver)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Saver) {
		s.clock = clock
	}
}

func WithDebounce(d time.Duration) Option {
	return func(s *Saver) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithResultHandler receives the outcome of every debounced write, conflicts included.
func WithResultHandler(fn func(Result)) Option {
	return func(s *Saver) {
		s.onResult = fn
	}
}

func NewSaver(writer Writer, queue *offline.Queue, replayer *offline.Replayer, logger *slog.Logger, opts ...Option) *Saver {
	s := &Saver{
		writer:   writer,
		queue:    queue,
		replayer: replayer,
		clock:    clockwork.NewRealClock(),
		debounce: DefaultDebounce,
		onResult: func(Result) {},
		logger:   logger.With("module", "autosave"),
		pending:  make(map[stepRef]*pendingWrite),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule records the latest data of a step. The write is sent once the step saw no edit for the
// debounce interval; an earlier pending write of the same step is replaced.
func (s *Saver) Schedule(cycleID, stepID string, data map[string]any, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return ErrSessionExpired
	}

	ref := stepRef{cycleID: cycleID, stepID: stepID}

	if previous, ok := s.pending[ref]; ok {
		previous.timer.Stop()
	}

	write := &pendingWrite{data: data, version: expectedVersion}
	write.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(ref, write) })
	s.pending[ref] = write

	return nil
}

// Pending reports how many steps have an unsent write.
func (s *Saver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

func (s *Saver) fire(ref stepRef, write *pendingWrite) {
	s.mu.Lock()
	if s.pending[ref] != write {
		s.mu.Unlock()

		return
	}

	delete(s.pending, ref)
	s.mu.Unlock()

	s.onResult(s.save(context.Background(), ref, write))
}

// take removes every pending write and stops its timer.
func (s *Saver) take() map[stepRef]*pendingWrite {
	taken := s.pending
	s.pending = make(map[stepRef]*pendingWrite)

	for _, write := range taken {
		write.timer.Stop()
	}

	return taken
}

// Flush sends every pending write now.
func (s *Saver) Flush(ctx context.Context) []Result {
	s.mu.Lock()
	taken := s.take()
	s.mu.Unlock()

	results := make([]Result, 0, len(taken))

	for ref, write := range taken {
		result := s.save(ctx, ref, write)
		s.onResult(result)
		results = append(results, result)
	}

	return results
}

func (s *Saver) save(ctx context.Context, ref stepRef, write *pendingWrite) Result {
	result := Result{CycleID: ref.cycleID, StepID: ref.stepID}

	update, err := s.writer.UpdateStep(ctx, ref.cycleID, ref.stepID, write.data, write.version)

	switch {
	case err == nil:
		result.Update = update

		if !update.Success {
			s.logger.InfoContext(ctx, "step write conflicted", "cycle_id", ref.cycleID, "step_id", ref.stepID)
		}
	case errors.Is(err, client.ErrUnavailable):
		result.Queued, result.Err = s.enqueue(ctx, ref, write)
	default:
		result.Err = err

		s.logger.WarnContext(ctx, "step write failed", "cycle_id", ref.cycleID, "step_id", ref.stepID, "error", err)
	}

	return result
}

func (s *Saver) enqueue(ctx context.Context, ref stepRef, write *pendingWrite) (*models.OfflineAction, error) {
	action, err := s.writer.StepUpdateAction(ref.cycleID, ref.stepID, write.data, write.version)
	if err != nil {
		return nil, err
	}

	queued, err := s.queue.Enqueue(ctx, *action)
	if err != nil {
		return nil, fmt.Errorf("failed to keep step write offline: %w", err)
	}

	s.logger.InfoContext(ctx, "step write kept offline", "cycle_id", ref.cycleID, "step_id", ref.stepID, "action_id", queued.ID)

	return queued, nil
}

// Expire moves every pending write to the offline queue and refuses new writes. It returns once the
// writes are durable, so the caller may signal the expiry afterwards.
func (s *Saver) Expire(ctx context.Context) ([]*models.OfflineAction, error) {
	s.mu.Lock()
	s.expired = true
	taken := s.take()
	s.mu.Unlock()

	queued := make([]*models.OfflineAction, 0, len(taken))

	var errs []error

	for ref, write := range taken {
		action, err := s.enqueue(ctx, ref, write)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		queued = append(queued, action)
	}

	s.logger.InfoContext(ctx, "session expired", "queued", len(queued))

	return queued, errors.Join(errs...)
}

// Reauthenticate accepts writes again and replays the offline queue. Replayed writes go through the
// same version check as any other write.
func (s *Saver) Reauthenticate(ctx context.Context) (*offline.Report, error) {
	s.mu.Lock()
	s.expired = false
	s.mu.Unlock()

	return s.replayer.Replay(ctx)
}
