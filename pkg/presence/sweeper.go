package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSweepSchedule = "@every 30s"

// Sweeper periodically removes stale sessions from a Registry.
type Sweeper struct {
	cron     *cron.Cron
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSweeper(registry *Registry, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		registry: registry,
		timeout:  10 * time.Second,
		logger:   logger.With("module", "presence_sweeper"),
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.registry.Sweep(ctx); err != nil {
		s.logger.WarnContext(ctx, "presence sweep did not complete", "error", err)
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and returns a context that is done once a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
