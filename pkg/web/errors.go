package web

import (
	"errors"
	"time"

	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/log"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/services"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// GateProblem is a 409 answer naming what keeps a gate closed.
type GateProblem struct {
	*problems.Problem

	Gate          string                `json:"gate"`
	PhaseID       models.PhaseID        `json:"phase_id,omitempty"`
	TaskID        string                `json:"task_id,omitempty"`
	BlockingItems []models.BlockingItem `json:"blocking_items,omitempty"`
}

// LockProblem is a 409 answer naming the current lock holder.
type LockProblem struct {
	*problems.Problem

	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidationProblem lists every violation found.
type ValidationProblem struct {
	*problems.Problem

	Errors []string `json:"errors"`
}

func problem(c fiber.Ctx, status int, problemType string) *problems.Problem {
	return problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType)
}

func badRequest(c fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(problem(c, fiber.StatusBadRequest, "validation_error").WithDetail(detail))
}

var notFoundTypes = []struct {
	target      error
	problemType string
}{
	{persistence.ErrCycleNotFound, "cycle_not_found"},
	{persistence.ErrTaskNotFound, "task_not_found"},
	{persistence.ErrIssueNotFound, "issue_not_found"},
	{persistence.ErrArtifactNotFound, "artifact_not_found"},
	{persistence.ErrReviewNotFound, "review_not_found"},
	{services.ErrPhaseNotFound, "phase_not_found"},
	{services.ErrStepNotFound, "step_not_found"},
	{versioning.ErrConflictNotFound, "conflict_not_found"},
}

var conflictTypes = []struct {
	target      error
	problemType string
}{
	{services.ErrPhaseNotActive, "phase_not_active"},
	{services.ErrCycleArchived, "cycle_archived"},
	{services.ErrIssueClosed, "issue_closed"},
	{services.ErrStaleReview, "stale_review"},
	{versioning.ErrStaleResolution, "stale_resolution"},
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	var (
		gateErr    *services.GateNotSatisfiedError
		lockErr    *locking.ConflictError
		stepErr    *services.StepValidationError
		controlErr *services.ControlValidationError
	)

	switch {
	case errors.As(err, &gateErr):
		return c.Status(fiber.StatusConflict).JSON(GateProblem{
			Problem:       problem(c, fiber.StatusConflict, "gate_not_satisfied").WithDetail(err.Error()),
			Gate:          gateErr.Gate,
			PhaseID:       gateErr.PhaseID,
			TaskID:        gateErr.TaskID,
			BlockingItems: gateErr.BlockingItems,
		})

	case errors.As(err, &lockErr):
		return c.Status(fiber.StatusConflict).JSON(LockProblem{
			Problem:   problem(c, fiber.StatusConflict, "lock_conflict").WithDetail(err.Error()),
			HolderID:  lockErr.Lock.HolderID,
			ExpiresAt: lockErr.Lock.ExpiresAt,
		})

	case errors.As(err, &stepErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ValidationProblem{
			Problem: problem(c, fiber.StatusUnprocessableEntity, "step_validation_failed").WithDetail(err.Error()),
			Errors:  stepErr.Messages,
		})

	case errors.As(err, &controlErr):
		return c.Status(fiber.StatusBadRequest).JSON(ValidationProblem{
			Problem: problem(c, fiber.StatusBadRequest, "invalid_compensating_control").WithDetail(err.Error()),
			Errors:  controlErr.Messages,
		})

	case errors.Is(err, services.ErrPresenceDisabled):
		return c.Status(fiber.StatusNotImplemented).JSON(
			problem(c, fiber.StatusNotImplemented, "presence_disabled").WithDetail(err.Error()))

	case errors.Is(err, versioning.ErrContention):
		return c.Status(fiber.StatusServiceUnavailable).JSON(
			problem(c, fiber.StatusServiceUnavailable, "contention").WithDetail(err.Error()))

	case services.IsNotFoundError(err):
		problemType := "not_found"

		for _, nf := range notFoundTypes {
			if errors.Is(err, nf.target) {
				problemType = nf.problemType

				break
			}
		}

		return c.Status(fiber.StatusNotFound).JSON(problem(c, fiber.StatusNotFound, problemType).WithDetail(err.Error()))

	case services.IsValidationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(problem(c, fiber.StatusBadRequest, "validation_error").WithDetail(err.Error()))

	case services.IsConflictError(err):
		problemType := "conflict"

		for _, ct := range conflictTypes {
			if errors.Is(err, ct.target) {
				problemType = ct.problemType

				break
			}
		}

		return c.Status(fiber.StatusConflict).JSON(problem(c, fiber.StatusConflict, problemType).WithDetail(err.Error()))

	default:
		log.FromContext(c.Context()).ErrorContext(c.Context(), "unexpected service error", "path", c.Path(), "error", err)

		return c.Status(fiber.StatusInternalServerError).JSON(
			problem(c, fiber.StatusInternalServerError, "internal_error").WithError(err))
	}
}
