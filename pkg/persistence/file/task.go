package file

import (
	"context"
	"slices"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// TaskRepository stores human tasks as tenants/<tenant>/tasks/<id>.json.
type TaskRepository struct {
	docs *documents
}

func (r *TaskRepository) Save(_ context.Context, task *models.HumanTask) error {
	if err := r.docs.write(task, task.TenantID, "tasks", task.ID); err != nil {
		return persistence.NewEntityError("Save", "task", task.TenantID, task.ID, err)
	}

	return nil
}

func (r *TaskRepository) GetByID(_ context.Context, tenantID, taskID string) (*models.HumanTask, error) {
	var task models.HumanTask

	found, err := r.docs.read(&task, tenantID, "tasks", taskID)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "task", tenantID, taskID, err)
	}

	if !found || task.TenantID != tenantID {
		return nil, persistence.NewEntityError("GetByID", "task", tenantID, taskID, persistence.ErrTaskNotFound)
	}

	return &task, nil
}

// ListByCycle returns the cycle's tasks in creation order.
func (r *TaskRepository) ListByCycle(_ context.Context, tenantID, cycleID string) ([]*models.HumanTask, error) {
	tasks, err := readAll[models.HumanTask](r.docs, tenantID, "tasks")
	if err != nil {
		return nil, persistence.NewEntityError("ListByCycle", "task", tenantID, cycleID, err)
	}

	tasks = slices.DeleteFunc(tasks, func(t *models.HumanTask) bool {
		return t.TenantID != tenantID || t.CycleID != cycleID
	})

	slices.SortStableFunc(tasks, func(a, b *models.HumanTask) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return tasks, nil
}
