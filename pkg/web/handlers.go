// Package web provides HTTP handlers and REST API endpoints for compliance cycles.
package web

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/regcycle/pkg/log"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const scopeLocal = "scope"

type APIHandlers struct {
	cycles         *services.Cycle
	tasks          *services.Tasks
	controls       *services.Controls
	reconciliation *services.Reconciliation
	personal       *services.Personal
	validator      *validator.Validate
}

func NewAPIHandlers(
	cycles *services.Cycle,
	controls *services.Controls,
	reconciliation *services.Reconciliation,
	personal *services.Personal,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		cycles:         cycles,
		tasks:          cycles.Tasks(),
		controls:       controls,
		reconciliation: reconciliation,
		personal:       personal,
		validator:      validator,
	}
}

// RequireScope reads the caller's scope from the request headers. Identity is verified upstream;
// this only refuses requests that carry no tenant or user.
func RequireScope(c fiber.Ctx) error {
	scope := models.Scope{
		TenantID:  header(c, models.HeaderTenantID),
		UserID:    header(c, models.HeaderUserID),
		SessionID: header(c, models.HeaderSessionID),
	}

	if scope.TenantID == "" || scope.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(
			problem(c, fiber.StatusBadRequest, "missing_scope").
				WithDetail(models.HeaderTenantID + " and " + models.HeaderUserID + " headers are required"))
	}

	c.Locals(scopeLocal, scope)
	c.SetContext(log.WithLogger(c.Context(), slog.With("tenant_id", scope.TenantID, "user_id", scope.UserID)))

	return c.Next()
}

// header returns a trimmed copy of the header value that outlives the request.
func header(c fiber.Ctx, name string) string {
	return strings.Clone(strings.TrimSpace(c.Get(name)))
}

func scopeOf(c fiber.Ctx) models.Scope {
	scope, _ := c.Locals(scopeLocal).(models.Scope)

	return scope
}

// requestError is a body that is not a JSON object or that fails struct validation.
type requestError struct {
	detail   string
	messages []string
}

func (e *requestError) Error() string {
	return e.detail
}

var errInvalidJSON = &requestError{detail: "Invalid JSON format"}

// decodeObject decodes a JSON object body into req.
func decodeObject(c fiber.Ctx, req any) error {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 || body[0] != '{' {
		return errInvalidJSON
	}

	if err := c.Bind().JSON(req); err != nil {
		return errInvalidJSON
	}

	return nil
}

// bind decodes the JSON object body into req and validates it.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if err := decodeObject(c, req); err != nil {
		return err
	}

	if err := h.validator.Struct(req); err != nil {
		messages := services.FieldMessages(err)

		return &requestError{detail: strings.Join(messages, "; "), messages: messages}
	}

	return nil
}

// invalidRequest answers 400 for an error returned by bind or decodeObject.
func invalidRequest(c fiber.Ctx, err error) error {
	var reqErr *requestError
	if errors.As(err, &reqErr) && len(reqErr.messages) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ValidationProblem{
			Problem: problem(c, fiber.StatusBadRequest, "validation_error").WithDetail(reqErr.detail),
			Errors:  reqErr.messages,
		})
	}

	return badRequest(c, err.Error())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.cycles.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Regcycle API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Regcycle API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListCycles(c fiber.Ctx) error {
	cycles, err := h.cycles.ListCycles(c.Context(), scopeOf(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cycles)
}

func (h *APIHandlers) StartCycle(c fiber.Ctx) error {
	var req StartCycleRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	cycle, err := h.cycles.StartCycle(c.Context(), scopeOf(c), req.ReportID, req.PeriodEnd)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(cycle)
}

func (h *APIHandlers) GetCycle(c fiber.Ctx) error {
	cycle, err := h.cycles.FetchCycle(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cycle)
}

func (h *APIHandlers) ArchiveCycle(c fiber.Ctx) error {
	cycle, err := h.cycles.ArchiveCycle(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cycle)
}

func (h *APIHandlers) MarkSubmissionReady(c fiber.Ctx) error {
	cycle, err := h.cycles.MarkSubmissionReady(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cycle)
}

func (h *APIHandlers) GetGates(c fiber.Ctx) error {
	scope := scopeOf(c)

	attested, err := h.cycles.IsAttestationComplete(c.Context(), scope, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	ready, err := h.cycles.CanTransitionToSubmissionReady(c.Context(), scope, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(GatesResponse{AttestationComplete: attested, CanTransitionToSubmissionReady: ready})
}

func (h *APIHandlers) ValidatePhase(c fiber.Ctx) error {
	validation, err := h.cycles.ValidatePhase(c.Context(), scopeOf(c), c.Params("id"), models.PhaseID(c.Params("phaseId")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(validation)
}

func (h *APIHandlers) AdvancePhase(c fiber.Ctx) error {
	cycle, err := h.cycles.AdvancePhase(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cycle)
}

func (h *APIHandlers) BlockPhase(c fiber.Ctx) error {
	var req BlockPhaseRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	cycle, err := h.cycles.BlockPhase(c.Context(), scopeOf(c), c.Params("id"), models.PhaseID(c.Params("phaseId")), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cycle)
}

func (h *APIHandlers) UnblockPhase(c fiber.Ctx) error {
	cycle, err := h.cycles.UnblockPhase(c.Context(), scopeOf(c), c.Params("id"), models.PhaseID(c.Params("phaseId")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cycle)
}
