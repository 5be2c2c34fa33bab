package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/otelhelper"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Cycle is the workflow state machine. It owns the phase and step status tree of every cycle and
// is the only writer of cycle documents.
//
// Read-modify-write of a cycle document is serialized by a mutex per cycle within a process and by
// the document revision across processes. Step data is owned by the version store; the document
// carries a copy that catches up whenever the step is touched.
type Cycle struct {
	persistence persistence.Persistence
	resolver    *versioning.Resolver
	locks       *locking.Manager
	tasks       *Tasks
	settings    settings
	logger      *slog.Logger
	cycles      *keyedMutex
}

// NewCycle creates the cycle service. When a presence registry is configured, users leaving a cycle
// release their step locks; register it before the registry runs.
func NewCycle(
	persistence persistence.Persistence,
	resolver *versioning.Resolver,
	locks *locking.Manager,
	logger *slog.Logger,
	opts ...Option,
) *Cycle {
	c := &Cycle{
		persistence: persistence,
		resolver:    resolver,
		locks:       locks,
		tasks:       NewTasks(persistence, logger, opts...),
		settings:    newSettings(opts),
		logger:      logger.With("module", "cycle"),
		cycles:      newKeyedMutex(),
	}

	if c.settings.presence != nil {
		c.settings.presence.OnLeave(c.releaseDepartedLocks)
	}

	return c
}

// Tasks returns the human task service sharing this service's persistence.
func (c *Cycle) Tasks() *Tasks {
	return c.tasks
}

// HealthCheck checks the health of the persistence layer.
func (c *Cycle) HealthCheck(ctx context.Context) (string, bool) {
	if c.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := c.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// StartCycleRequest carries the inputs of StartCycle.
type StartCycleRequest struct {
	ReportID  string    `json:"report_id"  validate:"required"`
	PeriodEnd time.Time `json:"period_end" validate:"required"`
}

// StartCycle creates a cycle from the template with the first phase in progress and every other
// phase pending, together with the attestation task that gates submission.
func (c *Cycle) StartCycle(ctx context.Context, scope models.Scope, reportID string, periodEnd time.Time) (cycle *models.Cycle, err error) {
	ctx, span := c.settings.span(ctx, "cycle.start", attribute.String(otelhelper.TenantIDKey, scope.TenantID))
	defer func() { endSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}

	if err := checkRequest("StartCycle", StartCycleRequest{ReportID: strings.TrimSpace(reportID), PeriodEnd: periodEnd}); err != nil {
		return nil, err
	}

	now := c.settings.clock.Now().UTC()

	phases := c.settings.template.Build()
	if len(phases) > 0 {
		phases[0].Status = models.PhaseStatusInProgress
	}

	cycle = &models.Cycle{
		ID:             uuid.New().String(),
		TenantID:       scope.TenantID,
		ReportID:       reportID,
		PeriodEnd:      periodEnd.UTC(),
		Status:         models.CycleStatusActive,
		Phases:         phases,
		CreatedBy:      scope.UserID,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	cycle.RefreshCurrentPhase()

	task, err := c.tasks.create(ctx, scope, TaskDescriptor{
		CycleID: cycle.ID,
		Type:    models.TaskTypeAttestation,
		Title:   fmt.Sprintf("Attest report %s for period ending %s", reportID, periodEnd.Format(time.DateOnly)),
	})
	if err != nil {
		return nil, err
	}

	cycle.AttestationTaskID = task.ID

	if err := c.persistence.CycleRepository().Save(ctx, cycle); err != nil {
		return nil, fmt.Errorf("failed to save cycle: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.CycleIDKey, cycle.ID))
	c.logger.InfoContext(ctx, "cycle started", "cycle_id", cycle.ID, "tenant_id", cycle.TenantID, "report_id", reportID)

	c.settings.publish(ctx, c.logger, events.CycleStarted{
		BaseEvent: events.NewBaseEvent(events.CycleStartedEvent, cycle.TenantID, cycle.ID, now),
		Payload: events.CyclePayload{
			Status:  string(cycle.Status),
			PhaseID: string(cycle.CurrentPhaseID),
			ActorID: scope.UserID,
		},
	})

	return cycle, nil
}

// FetchCycle returns a cycle with the latest accepted data of every step.
func (c *Cycle) FetchCycle(ctx context.Context, scope models.Scope, cycleID string) (*models.Cycle, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	cycle, err := c.persistence.CycleRepository().GetByID(ctx, scope.TenantID, cycleID)
	if err != nil {
		return nil, err
	}

	for _, phase := range cycle.Phases {
		if err := c.syncSteps(ctx, cycle, phase.Steps...); err != nil {
			return nil, err
		}
	}

	return cycle, nil
}

// ListCycles returns the tenant's cycles, newest first.
func (c *Cycle) ListCycles(ctx context.Context, scope models.Scope) ([]*models.Cycle, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	return c.persistence.CycleRepository().List(ctx, scope.TenantID)
}

// maxSaveAttempts bounds how often modify reloads a cycle whose document another node saved first.
const maxSaveAttempts = 5

// modify runs fn on the freshly loaded cycle while holding the cycle's mutex and saves the result
// when fn succeeds. Archived cycles are read-only.
//
// The mutex only covers this process. A save refused because the stored revision moved on reloads
// the cycle and runs fn again, so fn must derive every change from the cycle it is given.
func (c *Cycle) modify(
	ctx context.Context,
	scope models.Scope,
	cycleID string,
	fn func(cycle *models.Cycle, now time.Time) error,
) (*models.Cycle, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	unlock := c.cycles.lock(scope.TenantID + "/" + cycleID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		cycle, err := c.persistence.CycleRepository().GetByID(ctx, scope.TenantID, cycleID)
		if err != nil {
			return nil, err
		}

		if cycle.Status == models.CycleStatusArchived {
			return nil, fmt.Errorf("%w: %s", ErrCycleArchived, cycleID)
		}

		now := c.settings.clock.Now().UTC()

		if err := fn(cycle, now); err != nil {
			return nil, err
		}

		cycle.LastModifiedAt = now

		err = c.persistence.CycleRepository().Save(ctx, cycle)
		if err == nil {
			return cycle, nil
		}

		if !persistence.IsRevisionConflict(err) {
			return nil, fmt.Errorf("failed to save cycle: %w", err)
		}

		if attempt == maxSaveAttempts {
			return nil, fmt.Errorf("%w: cycle %s: %w", versioning.ErrContention, cycleID, err)
		}

		c.logger.DebugContext(ctx, "cycle saved concurrently, retrying", "cycle_id", cycleID, "attempt", attempt)
	}
}

// ValidatePhase computes the blocking items of a phase without changing anything.
func (c *Cycle) ValidatePhase(ctx context.Context, scope models.Scope, cycleID string, phaseID models.PhaseID) (*models.PhaseValidationResult, error) {
	cycle, err := c.FetchCycle(ctx, scope, cycleID)
	if err != nil {
		return nil, err
	}

	phase := cycle.Phase(phaseID)
	if phase == nil {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotFound, phaseID)
	}

	validation := validatePhase(phase)

	return &validation, nil
}

// validatePhase returns every required step that is not completed together with every step that has
// validation errors, in step order.
func validatePhase(phase *models.Phase) models.PhaseValidationResult {
	result := models.PhaseValidationResult{
		PhaseID:       phase.ID,
		BlockingItems: []models.BlockingItem{},
	}

	for _, step := range phase.Steps {
		incomplete := step.IsRequired && step.Status != models.StepStatusCompleted
		if !incomplete && len(step.ValidationErrors) == 0 {
			continue
		}

		result.BlockingItems = append(result.BlockingItems, models.BlockingItem{
			StepID:           step.ID,
			StepName:         step.Name,
			Status:           step.Status,
			IsRequired:       step.IsRequired,
			ValidationErrors: append([]string(nil), step.ValidationErrors...),
		})
	}

	return result
}

// AdvancePhase completes the current phase and starts the next one. The phase must have no blocking
// items, and the attestation phase also needs the attestation task approved.
func (c *Cycle) AdvancePhase(ctx context.Context, scope models.Scope, cycleID string) (cycle *models.Cycle, err error) {
	ctx, span := c.settings.span(ctx, "cycle.advance_phase",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.CycleIDKey, cycleID),
	)
	defer func() { endSpan(span, err) }()

	var completed models.PhaseID

	cycle, err = c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, now time.Time) error {
		phase := cycle.Phase(cycle.CurrentPhaseID)
		if phase == nil {
			return fmt.Errorf("%w: every phase of cycle %s is completed", ErrInvalidTransition, cycleID)
		}

		if phase.Status != models.PhaseStatusInProgress {
			return fmt.Errorf("%w: phase %s is %s", ErrPhaseNotActive, phase.ID, phase.Status)
		}

		if err := c.syncSteps(ctx, cycle, phase.Steps...); err != nil {
			return err
		}

		if validation := validatePhase(phase); !validation.Valid() {
			return &GateNotSatisfiedError{
				Gate:          GatePhaseValidation,
				CycleID:       cycleID,
				PhaseID:       phase.ID,
				BlockingItems: validation.BlockingItems,
			}
		}

		if phase.ID == models.PhaseAttestation {
			approved, err := c.attestationApproved(ctx, cycle)
			if err != nil {
				return err
			}

			if !approved {
				return &GateNotSatisfiedError{Gate: GateAttestation, CycleID: cycleID, PhaseID: phase.ID, TaskID: cycle.AttestationTaskID}
			}
		}

		phase.Status = models.PhaseStatusCompleted
		phase.CompletedAt = &now
		completed = phase.ID

		cycle.RefreshCurrentPhase()

		if next := cycle.Phase(cycle.CurrentPhaseID); next != nil && next.Status == models.PhaseStatusPending {
			next.Status = models.PhaseStatusInProgress
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "phase completed", "cycle_id", cycleID, "phase_id", completed, "current_phase_id", cycle.CurrentPhaseID)

	c.settings.publish(ctx, c.logger, events.PhaseAdvanced{
		BaseEvent: events.NewBaseEvent(events.PhaseAdvancedEvent, cycle.TenantID, cycle.ID, cycle.LastModifiedAt),
		Payload: events.CyclePayload{
			Status:  string(cycle.Status),
			PhaseID: string(completed),
			ActorID: scope.UserID,
		},
	})

	return cycle, nil
}

// BlockPhase marks a phase that has not completed as blocked with a reason. Steps of a blocked phase
// reject writes until it is unblocked.
func (c *Cycle) BlockPhase(ctx context.Context, scope models.Scope, cycleID string, phaseID models.PhaseID, reason string) (*models.Cycle, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, NewValidationError("BlockPhase", "reason_required", "a blocking reason is required", ErrInvalidRequest)
	}

	cycle, err := c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, _ time.Time) error {
		phase := cycle.Phase(phaseID)
		if phase == nil {
			return fmt.Errorf("%w: %s", ErrPhaseNotFound, phaseID)
		}

		if phase.Status == models.PhaseStatusCompleted {
			return fmt.Errorf("%w: phase %s is completed", ErrInvalidTransition, phaseID)
		}

		phase.Status = models.PhaseStatusBlocked
		phase.BlockingReason = reason

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "phase blocked", "cycle_id", cycleID, "phase_id", phaseID, "reason", reason)

	return cycle, nil
}

// UnblockPhase clears a block. The phase resumes in progress when it is the current phase and pending
// otherwise.
func (c *Cycle) UnblockPhase(ctx context.Context, scope models.Scope, cycleID string, phaseID models.PhaseID) (*models.Cycle, error) {
	return c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, _ time.Time) error {
		phase := cycle.Phase(phaseID)
		if phase == nil {
			return fmt.Errorf("%w: %s", ErrPhaseNotFound, phaseID)
		}

		if phase.Status != models.PhaseStatusBlocked {
			return fmt.Errorf("%w: phase %s is %s, not blocked", ErrInvalidTransition, phaseID, phase.Status)
		}

		phase.BlockingReason = ""
		phase.Status = models.PhaseStatusPending

		if cycle.PredecessorsCompleted(phaseID) {
			phase.Status = models.PhaseStatusInProgress
		}

		return nil
	})
}

// IsAttestationComplete reports whether the last decision on the cycle's attestation task is
// exactly approved.
func (c *Cycle) IsAttestationComplete(ctx context.Context, scope models.Scope, cycleID string) (bool, error) {
	cycle, err := c.FetchCycle(ctx, scope, cycleID)
	if err != nil {
		return false, err
	}

	return c.attestationApproved(ctx, cycle)
}

// CanTransitionToSubmissionReady answers the submission gate without changing anything.
func (c *Cycle) CanTransitionToSubmissionReady(ctx context.Context, scope models.Scope, cycleID string) (bool, error) {
	return c.IsAttestationComplete(ctx, scope, cycleID)
}

func (c *Cycle) attestationApproved(ctx context.Context, cycle *models.Cycle) (bool, error) {
	if cycle.AttestationTaskID == "" {
		return false, nil
	}

	task, err := c.persistence.TaskRepository().GetByID(ctx, cycle.TenantID, cycle.AttestationTaskID)
	if err != nil {
		if persistence.IsTaskNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return task.IsApproved(), nil
}

// MarkSubmissionReady moves an active cycle to submission_ready once its attestation is approved.
func (c *Cycle) MarkSubmissionReady(ctx context.Context, scope models.Scope, cycleID string) (cycle *models.Cycle, err error) {
	ctx, span := c.settings.span(ctx, "cycle.submission_ready",
		attribute.String(otelhelper.TenantIDKey, scope.TenantID),
		attribute.String(otelhelper.CycleIDKey, cycleID),
	)
	defer func() { endSpan(span, err) }()

	changed := false

	cycle, err = c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, _ time.Time) error {
		changed = false

		if cycle.Status == models.CycleStatusSubmissionReady {
			return nil
		}

		approved, err := c.attestationApproved(ctx, cycle)
		if err != nil {
			return err
		}

		if !approved {
			return &GateNotSatisfiedError{Gate: GateAttestation, CycleID: cycle.ID, TaskID: cycle.AttestationTaskID}
		}

		cycle.Status = models.CycleStatusSubmissionReady
		changed = true

		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		c.logger.InfoContext(ctx, "cycle is ready for submission", "cycle_id", cycleID)

		c.settings.publish(ctx, c.logger, events.CycleSubmissionReady{
			BaseEvent: events.NewBaseEvent(events.CycleSubmissionReadyEvent, cycle.TenantID, cycle.ID, cycle.LastModifiedAt),
			Payload:   events.CyclePayload{Status: string(cycle.Status), ActorID: scope.UserID},
		})
	}

	return cycle, nil
}

// ArchiveCycle closes a cycle. Archived cycles stay readable and reject every further change.
func (c *Cycle) ArchiveCycle(ctx context.Context, scope models.Scope, cycleID string) (*models.Cycle, error) {
	cycle, err := c.modify(ctx, scope, cycleID, func(cycle *models.Cycle, now time.Time) error {
		cycle.Status = models.CycleStatusArchived
		cycle.ArchivedAt = &now

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "cycle archived", "cycle_id", cycleID)

	c.settings.publish(ctx, c.logger, events.CycleArchived{
		BaseEvent: events.NewBaseEvent(events.CycleArchivedEvent, cycle.TenantID, cycle.ID, cycle.LastModifiedAt),
		Payload:   events.CyclePayload{Status: string(cycle.Status), ActorID: scope.UserID},
	})

	return cycle, nil
}
