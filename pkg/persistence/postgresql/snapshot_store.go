package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/versioning"
)

// SnapshotStore implements versioning.Store on the step_snapshots table. Apply holds a transaction
// scoped advisory lock on the step key, so the version check and the write form one critical section
// even when the step has never been written.
type SnapshotStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ versioning.Store = (*SnapshotStore)(nil)

func NewSnapshotStore(db *sql.DB, logger *slog.Logger) *SnapshotStore {
	return &SnapshotStore{db: db, logger: logger.With("module", "postgres_snapshot_store")}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SnapshotStore) Get(ctx context.Context, key models.StepKey) (*models.VersionedSnapshot, error) {
	return s.read(ctx, s.db, key)
}

func (s *SnapshotStore) read(ctx context.Context, q queryRower, key models.StepKey) (*models.VersionedSnapshot, error) {
	var (
		snapshot models.VersionedSnapshot
		raw      []byte
	)

	err := q.QueryRowContext(ctx, `
		SELECT version, data, writer_user_id, written_at
		FROM step_snapshots
		WHERE tenant_id = $1 AND cycle_id = $2 AND step_id = $3
	`, key.TenantID, key.CycleID, key.StepID).Scan(&snapshot.Version, &raw, &snapshot.WriterUserID, &snapshot.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, &snapshot.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", key, err)
	}

	snapshot.StepID = key.StepID

	return &snapshot, nil
}

func (s *SnapshotStore) Apply(ctx context.Context, key models.StepKey, fn versioning.MutateFunc) (*models.VersionedSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return nil, fmt.Errorf("failed to lock snapshot %s: %w", key, err)
	}

	current, err := s.read(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	if next == nil {
		return current, nil
	}

	data, err := json.Marshal(next.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot %s: %w", key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_snapshots (tenant_id, cycle_id, step_id, version, data, writer_user_id, written_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, cycle_id, step_id) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			writer_user_id = EXCLUDED.writer_user_id,
			written_at = EXCLUDED.written_at
	`, key.TenantID, key.CycleID, key.StepID, next.Version, data, next.WriterUserID, next.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot %s: %w", key, err)
	}

	s.logger.DebugContext(ctx, "snapshot written", "step", key.String(), "version", next.Version)

	return next, nil
}
