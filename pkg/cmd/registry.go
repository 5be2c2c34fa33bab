// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/regcycle/pkg/eventbus"
	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/persistence/postgresql"
	"github.com/dukex/regcycle/pkg/presence"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. An empty URL returns nil and the in-memory stores are used.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewVersionStore picks where step snapshots live: Redis when configured, then the SQL database,
// then process memory.
func NewVersionStore(client *redis.Client, p persistence.Persistence, logger *slog.Logger) versioning.Store {
	if client != nil {
		return versioning.NewRedisStore(client, "", logger)
	}

	if pg, ok := p.(*postgresql.Persistence); ok {
		return pg.SnapshotStore()
	}

	logger.Warn("step versions are kept in memory and will not survive a restart")

	return versioning.NewMemoryStore()
}

// NewResolver arbitrates step writes over versions. Pending conflicts are kept by the same backend.
func NewResolver(versions versioning.Store, conflictTTL time.Duration, logger *slog.Logger) *versioning.Resolver {
	return versioning.NewResolver(versions, clockwork.NewRealClock(), logger, versioning.WithConflictTTL(conflictTTL))
}

func NewLockManager(
	client *redis.Client,
	ttl time.Duration,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *locking.Manager {
	var store locking.Store = locking.NewMemoryStore()
	if client != nil {
		store = locking.NewRedisStore(client, "", logger)
	}

	return locking.NewManager(store, logger,
		locking.WithTTL(ttl),
		locking.WithClock(clockwork.NewRealClock()),
		locking.WithPublisher(publisher),
	)
}

// NewPresenceRegistry returns the registry and the sweeper that expires its stale sessions.
func NewPresenceRegistry(
	staleAfter time.Duration,
	schedule string,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) (*presence.Registry, *presence.Sweeper, error) {
	registry := presence.NewRegistry(logger,
		presence.WithStaleAfter(staleAfter),
		presence.WithPublisher(publisher),
	)

	sweeper, err := presence.NewSweeper(registry, schedule, logger)
	if err != nil {
		return nil, nil, err
	}

	return registry, sweeper, nil
}
