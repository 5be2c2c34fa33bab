package file

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// CycleRepository stores each cycle as tenants/<tenant>/cycles/<id>.json.
type CycleRepository struct {
	docs *documents
}

func (r *CycleRepository) Save(_ context.Context, cycle *models.Cycle) error {
	next := *cycle
	next.Revision = cycle.Revision + 1

	err := r.docs.writeIf(&next, func(stored []byte) error {
		var current struct {
			Revision int64 `json:"revision"`
		}

		if stored != nil {
			if err := json.Unmarshal(stored, &current); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", cycle.ID, err)
			}
		}

		if current.Revision != cycle.Revision {
			return fmt.Errorf("%w: stored %d, saving %d", persistence.ErrRevisionConflict, current.Revision, cycle.Revision)
		}

		return nil
	}, cycle.TenantID, "cycles", cycle.ID)
	if err != nil {
		return persistence.NewEntityError("Save", "cycle", cycle.TenantID, cycle.ID, err)
	}

	cycle.Revision = next.Revision

	return nil
}

func (r *CycleRepository) GetByID(_ context.Context, tenantID, cycleID string) (*models.Cycle, error) {
	var cycle models.Cycle

	found, err := r.docs.read(&cycle, tenantID, "cycles", cycleID)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "cycle", tenantID, cycleID, err)
	}

	if !found || cycle.TenantID != tenantID {
		return nil, persistence.NewEntityError("GetByID", "cycle", tenantID, cycleID, persistence.ErrCycleNotFound)
	}

	return &cycle, nil
}

// List returns the tenant's cycles, newest first.
func (r *CycleRepository) List(_ context.Context, tenantID string) ([]*models.Cycle, error) {
	cycles, err := readAll[models.Cycle](r.docs, tenantID, "cycles")
	if err != nil {
		return nil, persistence.NewEntityError("List", "cycle", tenantID, "", err)
	}

	cycles = slices.DeleteFunc(cycles, func(c *models.Cycle) bool { return c.TenantID != tenantID })

	slices.SortStableFunc(cycles, func(a, b *models.Cycle) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return cycles, nil
}
