package web

import (
	"github.com/dukex/regcycle/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ListCycleTasks(c fiber.Ctx) error {
	tasks, err := h.tasks.ListCycleTasks(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tasks)
}

func (h *APIHandlers) CreateTask(c fiber.Ctx) error {
	var req CreateTaskRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	id, err := h.tasks.CreateHumanTask(c.Context(), scopeOf(c), services.TaskDescriptor{
		CycleID:     c.Params("id"),
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		AssignedTo:  req.AssignedTo,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	task, err := h.tasks.FetchTask(c.Context(), scopeOf(c), c.Params("taskId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) DecideTask(c fiber.Ctx) error {
	var req DecisionRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	task, err := h.tasks.CompleteHumanTask(c.Context(), scopeOf(c), c.Params("taskId"), req.Outcome, req.Rationale)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) ReconcileArtifact(c fiber.Ctx) error {
	var req ReconcileRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	review, err := h.reconciliation.ReconcileArtifact(c.Context(), scopeOf(c), c.Params("id"), c.Params("type"), req.Items)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(review)
}

func (h *APIHandlers) GetArtifact(c fiber.Ctx) error {
	artifact, err := h.reconciliation.FetchArtifact(c.Context(), scopeOf(c), c.Params("id"), c.Params("type"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(artifact)
}

func (h *APIHandlers) GetReview(c fiber.Ctx) error {
	review, err := h.reconciliation.FetchReview(c.Context(), scopeOf(c), c.Params("reviewId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(review)
}

func (h *APIHandlers) DecideChange(c fiber.Ctx) error {
	var req ReviewDecisionRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	review, err := h.reconciliation.DecideChange(c.Context(), scopeOf(c), c.Params("reviewId"), req.Key, req.Approve)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(review)
}

func (h *APIHandlers) ApplyReview(c fiber.Ctx) error {
	artifact, err := h.reconciliation.ApplyReview(c.Context(), scopeOf(c), c.Params("reviewId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(artifact)
}

// OpenIssue and AddControl leave validation to the service so every violation is reported at once.
func (h *APIHandlers) OpenIssue(c fiber.Ctx) error {
	var req services.IssueRequest
	if err := decodeObject(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	issue, err := h.controls.OpenIssue(c.Context(), scopeOf(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(issue)
}

func (h *APIHandlers) GetIssue(c fiber.Ctx) error {
	issue, err := h.controls.FetchIssue(c.Context(), scopeOf(c), c.Params("issueId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(issue)
}

func (h *APIHandlers) CloseIssue(c fiber.Ctx) error {
	issue, err := h.controls.CloseIssue(c.Context(), scopeOf(c), c.Params("issueId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(issue)
}

func (h *APIHandlers) AddControl(c fiber.Ctx) error {
	var req services.ControlRequest
	if err := decodeObject(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	req.IssueID = c.Params("issueId")

	control, err := h.controls.AddCompensatingControl(c.Context(), scopeOf(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(control)
}

func (h *APIHandlers) ActiveControls(c fiber.Ctx) error {
	controls, err := h.controls.ActiveControls(c.Context(), scopeOf(c), c.Params("issueId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(controls)
}

func (h *APIHandlers) GetPreferences(c fiber.Ctx) error {
	preference, err := h.personal.Preferences(c.Context(), scopeOf(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(preference)
}

func (h *APIHandlers) PutPreferences(c fiber.Ctx) error {
	var req ValuesRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	preference, err := h.personal.SavePreferences(c.Context(), scopeOf(c), req.Values)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(preference)
}

func (h *APIHandlers) GetSessionContext(c fiber.Ctx) error {
	session, err := h.personal.SessionContext(c.Context(), scopeOf(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) PutSessionContext(c fiber.Ctx) error {
	var req ValuesRequest
	if err := h.bind(c, &req); err != nil {
		return invalidRequest(c, err)
	}

	session, err := h.personal.SaveSessionContext(c.Context(), scopeOf(c), req.Values)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) ClearSessionContext(c fiber.Ctx) error {
	if err := h.personal.ClearSessionContext(c.Context(), scopeOf(c)); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
