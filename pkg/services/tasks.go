package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/otelhelper"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// TaskDescriptor describes a human task to create.
type TaskDescriptor struct {
	CycleID     string          `json:"cycle_id"    validate:"required"`
	Type        models.TaskType `json:"type"        validate:"required,oneof=attestation review approval"`
	Title       string          `json:"title"       validate:"required"`
	Description string          `json:"description"`
	AssignedTo  string          `json:"assigned_to"`
}

// Tasks handles human task business operations.
type Tasks struct {
	persistence persistence.Persistence
	settings    settings
	logger      *slog.Logger
	tasks       *keyedMutex
}

// NewTasks creates a new human task service.
func NewTasks(persistence persistence.Persistence, logger *slog.Logger, opts ...Option) *Tasks {
	return &Tasks{
		persistence: persistence,
		settings:    newSettings(opts),
		logger:      logger.With("module", "tasks"),
		tasks:       newKeyedMutex(),
	}
}

// CreateHumanTask creates a pending task for an existing cycle of the caller's tenant.
func (t *Tasks) CreateHumanTask(ctx context.Context, scope models.Scope, desc TaskDescriptor) (id string, err error) {
	ctx, span := t.settings.span(ctx, "tasks.create",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.CycleIDKey, desc.CycleID),
	)
	defer func() { endSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return "", err
	}

	if err := checkRequest("CreateHumanTask", desc); err != nil {
		return "", err
	}

	if _, err := t.persistence.CycleRepository().GetByID(ctx, scope.TenantID, desc.CycleID); err != nil {
		return "", err
	}

	task, err := t.create(ctx, scope, desc)
	if err != nil {
		return "", err
	}

	return task.ID, nil
}

func (t *Tasks) create(ctx context.Context, scope models.Scope, desc TaskDescriptor) (*models.HumanTask, error) {
	task := &models.HumanTask{
		ID:          uuid.New().String(),
		TenantID:    scope.TenantID,
		CycleID:     desc.CycleID,
		Type:        desc.Type,
		Title:       desc.Title,
		Description: desc.Description,
		AssignedTo:  desc.AssignedTo,
		Status:      models.TaskStatusPending,
		Decisions:   []models.Decision{},
		CreatedBy:   scope.UserID,
		CreatedAt:   t.settings.clock.Now().UTC(),
	}

	if err := t.persistence.TaskRepository().Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	t.logger.InfoContext(ctx, "human task created", "task_id", task.ID, "cycle_id", task.CycleID, "type", task.Type)

	return task, nil
}

// CompleteHumanTask records a decision. A task may be decided more than once; gates read the last
// decision only.
func (t *Tasks) CompleteHumanTask(
	ctx context.Context,
	scope models.Scope,
	taskID string,
	outcome models.DecisionOutcome,
	rationale string,
) (task *models.HumanTask, err error) {
	ctx, span := t.settings.span(ctx, "tasks.complete",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.TaskIDKey, taskID),
	)
	defer func() { endSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}

	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, outcome)
	}

	unlock := t.tasks.lock(scope.TenantID + "/" + taskID)
	defer unlock()

	task, err = t.persistence.TaskRepository().GetByID(ctx, scope.TenantID, taskID)
	if err != nil {
		return nil, err
	}

	now := t.settings.clock.Now().UTC()

	task.Decisions = append(task.Decisions, models.Decision{
		Outcome:   outcome,
		Rationale: rationale,
		DecidedBy: scope.UserID,
		DecidedAt: now,
	})
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now

	if err := t.persistence.TaskRepository().Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	t.logger.InfoContext(ctx, "human task decided",
		"task_id", task.ID, "type", task.Type, "outcome", outcome, "decided_by", scope.UserID)

	t.settings.publish(ctx, t.logger, events.TaskCompleted{
		BaseEvent: events.NewBaseEvent(events.TaskCompletedEvent, task.TenantID, task.CycleID, now),
		Payload: events.TaskPayload{
			TaskID:    task.ID,
			TaskType:  string(task.Type),
			Outcome:   string(outcome),
			DecidedBy: scope.UserID,
		},
	})

	return task, nil
}

func (t *Tasks) FetchTask(ctx context.Context, scope models.Scope, taskID string) (*models.HumanTask, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	return t.persistence.TaskRepository().GetByID(ctx, scope.TenantID, taskID)
}

func (t *Tasks) ListCycleTasks(ctx context.Context, scope models.Scope, cycleID string) ([]*models.HumanTask, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	if _, err := t.persistence.CycleRepository().GetByID(ctx, scope.TenantID, cycleID); err != nil {
		return nil, err
	}

	return t.persistence.TaskRepository().ListByCycle(ctx, scope.TenantID, cycleID)
}
