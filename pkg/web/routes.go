package web

import "github.com/gofiber/fiber/v3"

// NewApp returns a fiber app whose request values stay valid after the handler returns.
// Scopes and path IDs end up in lock, version and presence keys.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{Immutable: true})
}

// Register mounts the API on router. /health is public; everything else requires a scope.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	api := router.Group("", RequireScope)

	api.Get("/cycles", h.ListCycles)
	api.Post("/cycles", h.StartCycle)
	api.Get("/cycles/:id", h.GetCycle)
	api.Post("/cycles/:id/archive", h.ArchiveCycle)
	api.Post("/cycles/:id/submission-ready", h.MarkSubmissionReady)
	api.Get("/cycles/:id/gates", h.GetGates)
	api.Post("/cycles/:id/advance", h.AdvancePhase)

	api.Get("/cycles/:id/phases/:phaseId/validation", h.ValidatePhase)
	api.Post("/cycles/:id/phases/:phaseId/block", h.BlockPhase)
	api.Post("/cycles/:id/phases/:phaseId/unblock", h.UnblockPhase)

	api.Put("/cycles/:id/steps/:stepId", h.UpdateStep)
	api.Post("/cycles/:id/steps/:stepId/complete", h.CompleteStep)
	api.Post("/cycles/:id/steps/:stepId/skip", h.SkipStep)
	api.Post("/cycles/:id/steps/:stepId/enter", h.EnterStep)
	api.Get("/cycles/:id/steps/:stepId/lock", h.GetStepLock)
	api.Post("/cycles/:id/steps/:stepId/lock", h.AcquireStepLock)
	api.Delete("/cycles/:id/steps/:stepId/lock", h.ReleaseStepLock)
	api.Get("/cycles/:id/steps/:stepId/conflicts", h.ListStepConflicts)
	api.Get("/cycles/:id/steps/:stepId/viewers", h.StepViewers)
	api.Post("/cycles/:id/conflicts/:conflictId/resolve", h.ResolveConflict)

	api.Post("/cycles/:id/presence", h.JoinCycle)
	api.Get("/cycles/:id/presence", h.ActiveUsers)
	api.Delete("/cycles/:id/presence", h.LeaveCycle)
	api.Post("/cycles/:id/presence/heartbeat", h.Heartbeat)

	api.Get("/cycles/:id/tasks", h.ListCycleTasks)
	api.Post("/cycles/:id/tasks", h.CreateTask)
	api.Get("/tasks/:taskId", h.GetTask)
	api.Post("/tasks/:taskId/decisions", h.DecideTask)

	api.Post("/cycles/:id/artifacts/:type/reconcile", h.ReconcileArtifact)
	api.Get("/cycles/:id/artifacts/:type", h.GetArtifact)
	api.Get("/reviews/:reviewId", h.GetReview)
	api.Post("/reviews/:reviewId/decisions", h.DecideChange)
	api.Post("/reviews/:reviewId/apply", h.ApplyReview)

	api.Post("/issues", h.OpenIssue)
	api.Get("/issues/:issueId", h.GetIssue)
	api.Post("/issues/:issueId/close", h.CloseIssue)
	api.Post("/issues/:issueId/controls", h.AddControl)
	api.Get("/issues/:issueId/controls", h.ActiveControls)

	api.Get("/me/preferences", h.GetPreferences)
	api.Put("/me/preferences", h.PutPreferences)
	api.Get("/me/session", h.GetSessionContext)
	api.Put("/me/session", h.PutSessionContext)
	api.Delete("/me/session", h.ClearSessionContext)
}
