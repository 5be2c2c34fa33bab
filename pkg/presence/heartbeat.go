package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultHeartbeatInterval = 30 * time.Second

// BeatFunc signals that a session is still alive. Errors are logged and otherwise ignored.
type BeatFunc func(ctx context.Context) error

// Heartbeater runs one background heartbeat loop per session.
type Heartbeater struct {
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewHeartbeater(clock clockwork.Clock, interval time.Duration, logger *slog.Logger) *Heartbeater {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	return &Heartbeater{
		clock:    clock,
		interval: interval,
		logger:   logger.With("module", "heartbeater"),
		sessions: make(map[string]context.CancelFunc),
	}
}

// Start begins beating for sessionID, replacing any loop already running for it.
func (h *Heartbeater) Start(ctx context.Context, sessionID string, beat BeatFunc) {
	loopCtx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if previous, ok := h.sessions[sessionID]; ok {
		previous()
	}
	h.sessions[sessionID] = cancel
	h.mu.Unlock()

	ticker := h.clock.NewTicker(h.interval)

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.Chan():
				if err := beat(loopCtx); err != nil && loopCtx.Err() == nil {
					h.logger.DebugContext(loopCtx, "heartbeat failed", "session_id", sessionID, "error", err)
				}
			}
		}
	}()
}

// Stop ends the loop of sessionID.
func (h *Heartbeater) Stop(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cancel, ok := h.sessions[sessionID]; ok {
		cancel()
		delete(h.sessions, sessionID)
	}
}

// Close stops every loop and waits for them to exit.
func (h *Heartbeater) Close() {
	h.mu.Lock()
	for sessionID, cancel := range h.sessions {
		cancel()
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
