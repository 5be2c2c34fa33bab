package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/regcycle/pkg/canonical"
	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/otelhelper"
	"github.com/dukex/regcycle/pkg/versioning"
	"go.opentelemetry.io/otel/attribute"
)

// StepUpdate is the outcome of UpdateStep. On a version conflict Success is false, Step is the
// unchanged step and Conflict describes the contested fields.
type StepUpdate struct {
	Success    bool                   `json:"success"`
	NewVersion int64                  `json:"new_version,omitempty"`
	Step       *models.Step           `json:"step"`
	Conflict   *models.ConflictRecord `json:"conflict,omitempty"`
}

func stepKey(scope models.Scope, cycleID, stepID string) models.StepKey {
	return models.StepKey{TenantID: scope.TenantID, CycleID: cycleID, StepID: stepID}
}

func findStep(cycle *models.Cycle, stepID string) (*models.Phase, *models.Step, error) {
	phase, step := cycle.FindStep(stepID)
	if step == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}

	return phase, step, nil
}

// activeStep returns the step when its phase accepts writes.
func activeStep(cycle *models.Cycle, stepID string) (*models.Step, error) {
	phase, step, err := findStep(cycle, stepID)
	if err != nil {
		return nil, err
	}

	if phase.Status != models.PhaseStatusInProgress {
		return nil, fmt.Errorf("%w: phase %s of step %s is %s", ErrPhaseNotActive, phase.ID, stepID, phase.Status)
	}

	return step, nil
}

// stepOf loads the cycle and returns the step, checking that both exist in the caller's tenant.
func (c *Cycle) stepOf(ctx context.Context, scope models.Scope, cycleID, stepID string) (*models.Cycle, *models.Phase, *models.Step, error) {
	cycle, err := c.FetchCycle(ctx, scope, cycleID)
	if err != nil {
		return nil, nil, nil, err
	}

	phase, step, err := findStep(cycle, stepID)
	if err != nil {
		return nil, nil, nil, err
	}

	return cycle, phase, step, nil
}

// writableStep loads the cycle and returns the step when the cycle is not archived and the step's
// phase accepts writes.
func (c *Cycle) writableStep(ctx context.Context, scope models.Scope, cycleID, stepID string) (*models.Cycle, *models.Step, error) {
	cycle, err := c.FetchCycle(ctx, scope, cycleID)
	if err != nil {
		return nil, nil, err
	}

	if cycle.Status == models.CycleStatusArchived {
		return nil, nil, fmt.Errorf("%w: %s", ErrCycleArchived, cycleID)
	}

	step, err := activeStep(cycle, stepID)
	if err != nil {
		return nil, nil, err
	}

	return cycle, step, nil
}

// applySnapshot copies an accepted snapshot into the step and recomputes its validation errors. A
// pending step starts; a completed step whose new data is invalid drops back to in progress.
func (c *Cycle) applySnapshot(step *models.Step, snapshot *models.VersionedSnapshot) {
	updatedAt := snapshot.Timestamp.UTC()

	step.Data = canonical.Clone(snapshot.Data)
	step.Version = snapshot.Version
	step.UpdatedBy = snapshot.WriterUserID
	step.UpdatedAt = &updatedAt
	step.ValidationErrors = c.settings.validator.Step(step, step.Data)

	switch {
	case step.Status == models.StepStatusPending:
		step.Status = models.StepStatusInProgress
	case step.Status == models.StepStatusCompleted && len(step.ValidationErrors) > 0:
		step.Status = models.StepStatusInProgress
	}
}

// syncSteps brings steps up to the latest snapshot of the version store. The document never moves a
// step back to an older version.
func (c *Cycle) syncSteps(ctx context.Context, cycle *models.Cycle, steps ...*models.Step) error {
	for _, step := range steps {
		key := models.StepKey{TenantID: cycle.TenantID, CycleID: cycle.ID, StepID: step.ID}

		snapshot, err := c.resolver.Snapshot(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load snapshot for %s: %w", key, err)
		}

		if snapshot != nil && snapshot.Version > step.Version {
			c.applySnapshot(step, snapshot)
		}
	}

	return nil
}

// UpdateStep writes step data with optimistic concurrency. expectedVersion is the version the caller
// last read. A stale write that differs from the stored data is returned as a conflict and changes
// nothing. Locks are not consulted.
func (c *Cycle) UpdateStep(
	ctx context.Context,
	scope models.Scope,
	cycleID, stepID string,
	data map[string]any,
	expectedVersion int64,
) (update *StepUpdate, err error) {
	ctx, span := c.settings.span(ctx, "cycle.update_step",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.CycleIDKey, cycleID),
		attribute.String(otelhelper.StepIDKey, stepID),
		attribute.Int64("regcycle.step.expected_version", expectedVersion),
	)
	defer func() { endSpan(span, err) }()

	if data == nil {
		data = map[string]any{}
	}

	_, step, err := c.writableStep(ctx, scope, cycleID, stepID)
	if err != nil {
		return nil, err
	}

	result, err := c.resolver.UpdateStepData(ctx, stepKey(scope, cycleID, stepID), data, expectedVersion, scope.UserID)
	if err != nil {
		return nil, err
	}

	if conflict := result.Conflict; conflict != nil {
		span.SetAttributes(attribute.String(otelhelper.ConflictIDKey, conflict.ID))

		c.settings.publish(ctx, c.logger, events.ConflictDetected{
			BaseEvent: events.NewBaseEvent(events.ConflictDetectedEvent, scope.TenantID, cycleID, conflict.DetectedAt),
			Payload: events.ConflictPayload{
				ConflictID:    conflict.ID,
				StepID:        stepID,
				LocalVersion:  conflict.LocalVersion,
				RemoteVersion: conflict.RemoteVersion,
				Fields:        conflict.FieldNames(),
				ActorID:       scope.UserID,
			},
		})

		return &StepUpdate{Step: step, Conflict: conflict}, nil
	}

	cycle, err := c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, _ time.Time) error {
		_, step, err := findStep(cycle, stepID)
		if err != nil {
			return err
		}

		if err := c.syncSteps(ctx, cycle, step); err != nil {
			return err
		}

		update = &StepUpdate{Success: true, NewVersion: result.NewVersion, Step: step}

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "step updated", "cycle_id", cycleID, "step_id", stepID, "version", update.NewVersion)

	c.settings.publish(ctx, c.logger, events.StepUpdated{
		BaseEvent: events.NewBaseEvent(events.StepUpdatedEvent, scope.TenantID, cycleID, cycle.LastModifiedAt),
		Payload: events.StepPayload{
			StepID:    stepID,
			Status:    string(update.Step.Status),
			Version:   update.NewVersion,
			UpdatedBy: scope.UserID,
		},
	})

	return update, nil
}

// errUnchanged aborts modify without saving when the outcome is not an error.
var errUnchanged = errors.New("cycle unchanged")

// ResolveStepConflict applies a resolution to a pending conflict of the cycle and writes the resolved
// data into the step.
func (c *Cycle) ResolveStepConflict(
	ctx context.Context,
	scope models.Scope,
	cycleID, conflictID string,
	strategy models.ResolutionStrategy,
	choices map[string]models.FieldChoice,
) (step *models.Step, err error) {
	ctx, span := c.settings.span(ctx, "cycle.resolve_conflict",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.CycleIDKey, cycleID),
		attribute.String(otelhelper.ConflictIDKey, conflictID),
	)
	defer func() { endSpan(span, err) }()

	conflict, err := c.resolver.Conflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	if conflict.StepKey.TenantID != scope.TenantID || conflict.StepKey.CycleID != cycleID {
		return nil, fmt.Errorf("%w: %s", versioning.ErrConflictNotFound, conflictID)
	}

	if _, _, err := c.writableStep(ctx, scope, cycleID, conflict.StepKey.StepID); err != nil {
		return nil, err
	}

	result, err := c.resolver.ResolveConflict(ctx, conflict, strategy, choices, scope.UserID)
	if err != nil {
		return nil, err
	}

	_, err = c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, _ time.Time) error {
		_, found, err := findStep(cycle, conflict.StepKey.StepID)
		if err != nil {
			return err
		}

		step = found

		return c.syncSteps(ctx, cycle, step)
	})
	if err != nil {
		return nil, err
	}

	c.settings.publish(ctx, c.logger, events.ConflictResolved{
		BaseEvent: events.NewBaseEvent(events.ConflictResolvedEvent, scope.TenantID, cycleID, result.Snapshot.Timestamp),
		Payload: events.ConflictPayload{
			ConflictID:    conflict.ID,
			StepID:        conflict.StepKey.StepID,
			LocalVersion:  conflict.LocalVersion,
			RemoteVersion: conflict.RemoteVersion,
			Fields:        conflict.FieldNames(),
			Strategy:      string(strategy),
			NewVersion:    result.NewVersion,
			ActorID:       scope.UserID,
		},
	})

	return step, nil
}

// PendingConflicts lists unresolved conflicts of a step, oldest first.
func (c *Cycle) PendingConflicts(ctx context.Context, scope models.Scope, cycleID, stepID string) ([]*models.ConflictRecord, error) {
	if _, _, _, err := c.stepOf(ctx, scope, cycleID, stepID); err != nil {
		return nil, err
	}

	return c.resolver.PendingConflicts(ctx, stepKey(scope, cycleID, stepID))
}

// CompleteStep moves a step to completed when its data has no validation errors. A pending step
// completes directly when empty data satisfies its rules.
func (c *Cycle) CompleteStep(ctx context.Context, scope models.Scope, cycleID, stepID string) (*models.Step, error) {
	var step *models.Step

	_, err := c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, now time.Time) error {
		var err error

		step, err = activeStep(cycle, stepID)
		if err != nil {
			return err
		}

		if err := c.syncSteps(ctx, cycle, step); err != nil {
			return err
		}

		switch step.Status {
		case models.StepStatusCompleted:
			return errUnchanged
		case models.StepStatusSkipped:
			return fmt.Errorf("%w: step %s was skipped", ErrInvalidTransition, stepID)
		}

		if messages := c.settings.validator.Step(step, step.Data); len(messages) > 0 {
			return &StepValidationError{StepID: stepID, Messages: messages}
		}

		step.Status = models.StepStatusCompleted
		step.ValidationErrors = []string{}
		step.UpdatedBy = scope.UserID
		step.UpdatedAt = &now

		return nil
	})
	if errors.Is(err, errUnchanged) {
		return step, nil
	}

	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "step completed", "cycle_id", cycleID, "step_id", stepID)

	return step, nil
}

// SkipStep marks an optional step as skipped. Its validation errors no longer block the phase.
func (c *Cycle) SkipStep(ctx context.Context, scope models.Scope, cycleID, stepID string) (*models.Step, error) {
	var step *models.Step

	_, err := c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, now time.Time) error {
		var err error

		step, err = activeStep(cycle, stepID)
		if err != nil {
			return err
		}

		if step.IsRequired {
			return fmt.Errorf("%w: %s", ErrStepRequired, stepID)
		}

		if step.Status == models.StepStatusCompleted {
			return fmt.Errorf("%w: step %s is completed", ErrInvalidTransition, stepID)
		}

		step.Status = models.StepStatusSkipped
		step.ValidationErrors = []string{}
		step.UpdatedBy = scope.UserID
		step.UpdatedAt = &now

		return nil
	})
	if err != nil {
		return nil, err
	}

	return step, nil
}

// AcquireStepLock asks for the advisory editing lock of a step. A denial is not an error; the result
// names the current holder.
func (c *Cycle) AcquireStepLock(ctx context.Context, scope models.Scope, cycleID, stepID string) (*models.LockResult, error) {
	if _, _, _, err := c.stepOf(ctx, scope, cycleID, stepID); err != nil {
		return nil, err
	}

	return c.locks.AcquireLock(ctx, stepKey(scope, cycleID, stepID), scope.UserID)
}

// ReleaseStepLock releases the caller's lock. Releasing a lock held by someone else, or none at all,
// does nothing.
func (c *Cycle) ReleaseStepLock(ctx context.Context, scope models.Scope, cycleID, stepID string) error {
	if _, _, _, err := c.stepOf(ctx, scope, cycleID, stepID); err != nil {
		return err
	}

	return c.locks.ReleaseLock(ctx, stepKey(scope, cycleID, stepID), scope.UserID)
}

// StepLock returns the live lock of a step, or nil.
func (c *Cycle) StepLock(ctx context.Context, scope models.Scope, cycleID, stepID string) (*models.Lock, error) {
	if _, _, _, err := c.stepOf(ctx, scope, cycleID, stepID); err != nil {
		return nil, err
	}

	return c.locks.ActiveLock(ctx, stepKey(scope, cycleID, stepID))
}
