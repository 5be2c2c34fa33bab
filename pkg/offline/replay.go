package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukex/regcycle/pkg/models"
)

// DefaultMaxAttempts bounds how often a failing action is sent before it needs the user.
const DefaultMaxAttempts = 5

// ErrRetriesExhausted is returned by Replay when at least one action reached the attempt limit.
var ErrRetriesExhausted = errors.New("offline action retries exhausted")

// Sender delivers one action. err is a transport failure; otherwise status is the response status.
type Sender interface {
	Send(ctx context.Context, action *models.OfflineAction) (status int, err error)
}

// Report summarizes one replay pass.
type Report struct {
	Delivered  int                     `json:"delivered"`
	Conflicted []*models.OfflineAction `json:"conflicted,omitempty"`
	Retrying   []*models.OfflineAction `json:"retrying,omitempty"`
	Exhausted  []*models.OfflineAction `json:"exhausted,omitempty"`
}

type Replayer struct {
	queue       *Queue
	sender      Sender
	maxAttempts int
	logger      *slog.Logger
}

type ReplayerOption func(*Replayer)

func WithMaxAttempts(n int) ReplayerOption {
	return func(r *Replayer) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func NewReplayer(queue *Queue, sender Sender, logger *slog.Logger, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		queue:       queue,
		sender:      sender,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.With("module", "offline_replayer"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Replay sends queued actions in order. A 2xx response removes the action. A 409 marks it conflicted
// and it is not sent again until discarded. Any other outcome counts as a failed attempt. Actions that
// used up their attempts stay queued, are no longer sent, and make Replay return ErrRetriesExhausted.
func (r *Replayer) Replay(ctx context.Context) (*Report, error) {
	actions, err := r.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if action.Conflicted {
			report.Conflicted = append(report.Conflicted, action)

			continue
		}

		if action.Attempts >= r.maxAttempts {
			report.Exhausted = append(report.Exhausted, action)

			continue
		}

		delivered, err := r.replay(ctx, action)
		if err != nil {
			return report, err
		}

		switch {
		case delivered:
			report.Delivered++
		case action.Conflicted:
			report.Conflicted = append(report.Conflicted, action)
		case action.Attempts >= r.maxAttempts:
			report.Exhausted = append(report.Exhausted, action)
		default:
			report.Retrying = append(report.Retrying, action)
		}
	}

	r.logger.InfoContext(ctx, "offline queue replayed",
		"delivered", report.Delivered,
		"conflicted", len(report.Conflicted),
		"retrying", len(report.Retrying),
		"exhausted", len(report.Exhausted),
	)

	if len(report.Exhausted) > 0 {
		return report, fmt.Errorf("%w: %d action(s) need attention", ErrRetriesExhausted, len(report.Exhausted))
	}

	return report, nil
}

func (r *Replayer) replay(ctx context.Context, action *models.OfflineAction) (bool, error) {
	status, err := r.sender.Send(ctx, action)

	switch {
	case err != nil:
		action.Attempts++
		action.LastError = err.Error()
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		r.logger.DebugContext(ctx, "action delivered", "action_id", action.ID, "status", status)

		return true, r.queue.settle(ctx, action, true)
	case status == http.StatusConflict:
		action.Conflicted = true
		action.LastError = http.StatusText(status)
	default:
		action.Attempts++
		action.LastError = fmt.Sprintf("unexpected status %d", status)
	}

	r.logger.WarnContext(ctx, "action not delivered",
		"action_id", action.ID, "attempts", action.Attempts, "conflicted", action.Conflicted, "error", action.LastError)

	return false, r.queue.settle(ctx, action, false)
}
