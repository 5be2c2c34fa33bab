package postgresql

import (
	"context"
	"database/sql"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// CycleRepository handles cycle documents.
type CycleRepository struct {
	db *sql.DB
}

func (r *CycleRepository) Save(ctx context.Context, cycle *models.Cycle) error {
	next := *cycle
	next.Revision = cycle.Revision + 1

	document, err := marshalDocument(&next)
	if err != nil {
		return persistence.NewEntityError("Save", "cycle", cycle.TenantID, cycle.ID, err)
	}

	var result sql.Result

	if cycle.Revision == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO cycles (tenant_id, id, report_id, status, document, created_at, last_modified_at, revision)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				status = EXCLUDED.status,
				document = EXCLUDED.document,
				last_modified_at = EXCLUDED.last_modified_at,
				revision = EXCLUDED.revision
			WHERE cycles.revision = 0
		`,
			cycle.TenantID,
			cycle.ID,
			cycle.ReportID,
			cycle.Status,
			document,
			cycle.CreatedAt,
			cycle.LastModifiedAt,
			next.Revision,
		)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE cycles SET status = $3, document = $4, last_modified_at = $5, revision = $6
			WHERE tenant_id = $1 AND id = $2 AND revision = $7
		`,
			cycle.TenantID,
			cycle.ID,
			cycle.Status,
			document,
			cycle.LastModifiedAt,
			next.Revision,
			cycle.Revision,
		)
	}

	if err != nil {
		return persistence.NewEntityError("Save", "cycle", cycle.TenantID, cycle.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("Save", "cycle", cycle.TenantID, cycle.ID, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Save", "cycle", cycle.TenantID, cycle.ID, persistence.ErrRevisionConflict)
	}

	cycle.Revision = next.Revision

	return nil
}

func (r *CycleRepository) GetByID(ctx context.Context, tenantID, cycleID string) (*models.Cycle, error) {
	cycle, found, err := getDocument[models.Cycle](ctx, r.db,
		`SELECT document FROM cycles WHERE tenant_id = $1 AND id = $2`, tenantID, cycleID)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "cycle", tenantID, cycleID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "cycle", tenantID, cycleID, persistence.ErrCycleNotFound)
	}

	return cycle, nil
}

// List returns the tenant's cycles, newest first.
func (r *CycleRepository) List(ctx context.Context, tenantID string) ([]*models.Cycle, error) {
	cycles, err := listDocuments[models.Cycle](ctx, r.db,
		`SELECT document FROM cycles WHERE tenant_id = $1 ORDER BY created_at DESC, id`, tenantID)
	if err != nil {
		return nil, persistence.NewEntityError("List", "cycle", tenantID, "", err)
	}

	return cycles, nil
}
