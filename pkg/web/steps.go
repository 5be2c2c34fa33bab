package web

import (
	"github.com/dukex/regcycle/pkg/locking"
	"github.com/gofiber/fiber/v3"
)

// UpdateStep answers 200 with the new version, or 409 with the recorded conflict when the write was stale.
func (h *APIHandlers) UpdateStep(c fiber.Ctx) error {
	var req UpdateStepRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	update, err := h.cycles.UpdateStep(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId"), req.Data, req.ExpectedVersion)
	if err != nil {
		return handleServiceError(c, err)
	}

	if update.Conflict != nil {
		return c.Status(fiber.StatusConflict).JSON(update)
	}

	return c.JSON(update)
}

func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	step, err := h.cycles.CompleteStep(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) SkipStep(c fiber.Ctx) error {
	step, err := h.cycles.SkipStep(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) EnterStep(c fiber.Ctx) error {
	if err := h.cycles.EnterStep(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetStepLock(c fiber.Ctx) error {
	lock, err := h.cycles.StepLock(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"lock": lock})
}

func (h *APIHandlers) AcquireStepLock(c fiber.Ctx) error {
	result, err := h.cycles.AcquireStepLock(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !result.Granted {
		return handleServiceError(c, &locking.ConflictError{Lock: result.ConflictingLock})
	}

	return c.JSON(result)
}

func (h *APIHandlers) ReleaseStepLock(c fiber.Ctx) error {
	if err := h.cycles.ReleaseStepLock(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListStepConflicts(c fiber.Ctx) error {
	conflicts, err := h.cycles.PendingConflicts(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conflicts)
}

func (h *APIHandlers) ResolveConflict(c fiber.Ctx) error {
	var req ResolveConflictRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	step, err := h.cycles.ResolveStepConflict(c.Context(), scopeOf(c), c.Params("id"), c.Params("conflictId"), req.Strategy, req.Choices)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) JoinCycle(c fiber.Ctx) error {
	if err := h.cycles.JoinCycle(c.Context(), scopeOf(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) Heartbeat(c fiber.Ctx) error {
	if err := h.cycles.Heartbeat(c.Context(), scopeOf(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) LeaveCycle(c fiber.Ctx) error {
	if err := h.cycles.LeaveCycle(c.Context(), scopeOf(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActiveUsers(c fiber.Ctx) error {
	users, err := h.cycles.ActiveUsers(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(users)
}

func (h *APIHandlers) StepViewers(c fiber.Ctx) error {
	viewers, err := h.cycles.StepViewers(c.Context(), scopeOf(c), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(viewers)
}
