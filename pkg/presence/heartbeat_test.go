package presence

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeater_BeatsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	heartbeater := NewHeartbeater(clock, 30*time.Second, slog.Default())
	defer heartbeater.Close()

	beats := make(chan struct{}, 4)

	heartbeater.Start(context.Background(), "s1", func(context.Context) error {
		beats <- struct{}{}

		return errors.New("offline")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	for range 2 {
		clock.Advance(30 * time.Second)

		select {
		case <-beats:
		case <-ctx.Done():
			t.Fatal("heartbeat did not fire")
		}
	}
}

func TestHeartbeater_Stop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	heartbeater := NewHeartbeater(clock, time.Second, slog.Default())

	heartbeater.Start(context.Background(), "s1", func(context.Context) error { return nil })
	heartbeater.Stop("s1")
	heartbeater.Stop("unknown")

	done := make(chan struct{})

	go func() {
		heartbeater.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat loop did not exit")
	}

	assert.Empty(t, heartbeater.sessions)
}

func TestSweeper(t *testing.T) {
	_, err := NewSweeper(NewRegistry(slog.Default()), "every now and then", slog.Default())
	require.Error(t, err)

	registry, clock, _ := startRegistry(t, WithStaleAfter(time.Minute))
	ctx := run(t, registry)

	registry.Join(at("alice", "s1", "collect-ledger"))
	require.NoError(t, registry.Flush(ctx))

	clock.Advance(2 * time.Minute)

	sweeper, err := NewSweeper(registry, "", slog.Default())
	require.NoError(t, err)

	sweeper.run()

	assert.Empty(t, registry.Active("tenant-a", "cycle-1"))
}
