// Package postgresql provides PostgreSQL persistence of cycles, their collaborating records and the
// step version snapshots.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db        *sql.DB
	logger    *slog.Logger
	snapshots *SnapshotStore
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:        database,
		logger:    logger,
		snapshots: NewSnapshotStore(database, logger),
	}, nil
}

// DB exposes the underlying connection pool.
func (p *Persistence) DB() *sql.DB {
	return p.db
}

// SnapshotStore returns the versioning.Store backed by this database.
func (p *Persistence) SnapshotStore() *SnapshotStore {
	return p.snapshots
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) CycleRepository() persistence.CycleRepository {
	return &CycleRepository{db: p.db}
}

func (p *Persistence) TaskRepository() persistence.TaskRepository {
	return &TaskRepository{db: p.db}
}

func (p *Persistence) IssueRepository() persistence.IssueRepository {
	return &IssueRepository{db: p.db}
}

func (p *Persistence) ArtifactRepository() persistence.ArtifactRepository {
	return &ArtifactRepository{db: p.db}
}

func (p *Persistence) ReviewRepository() persistence.ReviewRepository {
	return &ReviewRepository{db: p.db}
}

func (p *Persistence) PreferenceRepository() persistence.PreferenceRepository {
	return &PreferenceRepository{db: p.db}
}

func (p *Persistence) SessionRepository() persistence.SessionRepository {
	return &SessionRepository{db: p.db}
}
