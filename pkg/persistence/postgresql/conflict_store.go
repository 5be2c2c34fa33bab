package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/versioning"
)

var _ versioning.ConflictStore = (*SnapshotStore)(nil)

// SaveConflict keeps pending conflicts in step_conflicts, next to the snapshots they contest.
func (s *SnapshotStore) SaveConflict(ctx context.Context, conflict *models.ConflictRecord) error {
	document, err := json.Marshal(conflict)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}

	expiresAt := conflict.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = conflict.DetectedAt.Add(versioning.DefaultConflictTTL)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_conflicts (id, tenant_id, cycle_id, step_id, document, detected_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			expires_at = EXCLUDED.expires_at
	`, conflict.ID, conflict.StepKey.TenantID, conflict.StepKey.CycleID, conflict.StepKey.StepID,
		document, conflict.DetectedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save conflict %s: %w", conflict.ID, err)
	}

	return nil
}

func (s *SnapshotStore) GetConflict(ctx context.Context, conflictID string) (*models.ConflictRecord, error) {
	var document []byte

	err := s.db.QueryRowContext(ctx, `SELECT document FROM step_conflicts WHERE id = $1`, conflictID).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", versioning.ErrConflictNotFound, conflictID)
		}

		return nil, fmt.Errorf("failed to read conflict %s: %w", conflictID, err)
	}

	var conflict models.ConflictRecord
	if err := json.Unmarshal(document, &conflict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict %s: %w", conflictID, err)
	}

	return &conflict, nil
}

func (s *SnapshotStore) StepConflicts(ctx context.Context, key models.StepKey) ([]*models.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM step_conflicts
		WHERE tenant_id = $1 AND cycle_id = $2 AND step_id = $3
		ORDER BY detected_at ASC
	`, key.TenantID, key.CycleID, key.StepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts of %s: %w", key, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var conflicts []*models.ConflictRecord

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		var conflict models.ConflictRecord
		if err := json.Unmarshal(document, &conflict); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict: %w", err)
		}

		conflicts = append(conflicts, &conflict)
	}

	return conflicts, rows.Err()
}

func (s *SnapshotStore) DeleteConflict(ctx context.Context, conflictID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM step_conflicts WHERE id = $1`, conflictID); err != nil {
		return fmt.Errorf("failed to delete conflict %s: %w", conflictID, err)
	}

	return nil
}

func (s *SnapshotStore) DeleteExpiredConflicts(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM step_conflicts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired conflicts: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired conflicts: %w", err)
	}

	return int(removed), nil
}
