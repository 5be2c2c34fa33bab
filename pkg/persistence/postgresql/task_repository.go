package postgresql

import (
	"context"
	"database/sql"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// TaskRepository handles human task documents.
type TaskRepository struct {
	db *sql.DB
}

func (r *TaskRepository) Save(ctx context.Context, task *models.HumanTask) error {
	document, err := marshalDocument(task)
	if err != nil {
		return persistence.NewEntityError("Save", "task", task.TenantID, task.ID, err)
	}

	query := `
		INSERT INTO human_tasks (tenant_id, id, cycle_id, document, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, id) DO UPDATE SET document = EXCLUDED.document
	`

	_, err = r.db.ExecContext(ctx, query, task.TenantID, task.ID, task.CycleID, document, task.CreatedAt)
	if err != nil {
		return persistence.NewEntityError("Save", "task", task.TenantID, task.ID, err)
	}

	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, tenantID, taskID string) (*models.HumanTask, error) {
	task, found, err := getDocument[models.HumanTask](ctx, r.db,
		`SELECT document FROM human_tasks WHERE tenant_id = $1 AND id = $2`, tenantID, taskID)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "task", tenantID, taskID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "task", tenantID, taskID, persistence.ErrTaskNotFound)
	}

	return task, nil
}

func (r *TaskRepository) ListByCycle(ctx context.Context, tenantID, cycleID string) ([]*models.HumanTask, error) {
	tasks, err := listDocuments[models.HumanTask](ctx, r.db,
		`SELECT document FROM human_tasks WHERE tenant_id = $1 AND cycle_id = $2 ORDER BY created_at, id`,
		tenantID, cycleID)
	if err != nil {
		return nil, persistence.NewEntityError("ListByCycle", "task", tenantID, cycleID, err)
	}

	return tasks, nil
}
