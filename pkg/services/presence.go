package services

import (
	"context"
	"errors"

	"github.com/dukex/regcycle/pkg/models"
)

// ErrPresenceDisabled is returned by presence operations when no registry is configured.
var ErrPresenceDisabled = errors.New("presence tracking is not configured")

func (c *Cycle) presenceOf(scope models.Scope, cycleID string) models.Presence {
	return models.Presence{
		TenantID:  scope.TenantID,
		CycleID:   cycleID,
		UserID:    scope.UserID,
		SessionID: scope.SessionID,
	}
}

// JoinCycle records the caller as present in a cycle. Presence updates are fire-and-forget: a full
// registry drops the update.
func (c *Cycle) JoinCycle(ctx context.Context, scope models.Scope, cycleID string) error {
	if c.settings.presence == nil {
		return ErrPresenceDisabled
	}

	cycle, err := c.FetchCycle(ctx, scope, cycleID)
	if err != nil {
		return err
	}

	p := c.presenceOf(scope, cycleID)
	p.PhaseID = cycle.CurrentPhaseID

	c.settings.presence.Join(p)

	return nil
}

// EnterStep records that the caller is now looking at a step.
func (c *Cycle) EnterStep(ctx context.Context, scope models.Scope, cycleID, stepID string) error {
	if c.settings.presence == nil {
		return ErrPresenceDisabled
	}

	_, phase, _, err := c.stepOf(ctx, scope, cycleID, stepID)
	if err != nil {
		return err
	}

	p := c.presenceOf(scope, cycleID)
	p.PhaseID = phase.ID
	p.StepID = stepID

	c.settings.presence.Move(p)

	return nil
}

// Heartbeat keeps the caller's presence fresh.
func (c *Cycle) Heartbeat(_ context.Context, scope models.Scope, cycleID string) error {
	if c.settings.presence == nil {
		return ErrPresenceDisabled
	}

	if err := checkScope(scope); err != nil {
		return err
	}

	c.settings.presence.Heartbeat(c.presenceOf(scope, cycleID))

	return nil
}

// LeaveCycle removes the caller's session from the cycle. When it was the user's last session the
// user's step locks are released.
func (c *Cycle) LeaveCycle(_ context.Context, scope models.Scope, cycleID string) error {
	if c.settings.presence == nil {
		return ErrPresenceDisabled
	}

	if err := checkScope(scope); err != nil {
		return err
	}

	c.settings.presence.Leave(c.presenceOf(scope, cycleID))

	return nil
}

// ActiveUsers lists who is present in a cycle.
func (c *Cycle) ActiveUsers(ctx context.Context, scope models.Scope, cycleID string) ([]models.Presence, error) {
	if c.settings.presence == nil {
		return nil, ErrPresenceDisabled
	}

	if _, err := c.FetchCycle(ctx, scope, cycleID); err != nil {
		return nil, err
	}

	return c.settings.presence.Active(scope.TenantID, cycleID), nil
}

// StepViewers lists who is looking at a step.
func (c *Cycle) StepViewers(ctx context.Context, scope models.Scope, cycleID, stepID string) ([]models.Presence, error) {
	if c.settings.presence == nil {
		return nil, ErrPresenceDisabled
	}

	if _, _, _, err := c.stepOf(ctx, scope, cycleID, stepID); err != nil {
		return nil, err
	}

	return c.settings.presence.Viewers(scope.TenantID, cycleID, stepID), nil
}

func (c *Cycle) releaseDepartedLocks(ctx context.Context, p models.Presence) {
	if _, err := c.locks.ReleaseUserLocks(ctx, p.TenantID, p.CycleID, p.UserID); err != nil {
		c.logger.WarnContext(ctx, "failed to release locks of departed user",
			"tenant_id", p.TenantID, "cycle_id", p.CycleID, "user_id", p.UserID, "error", err)
	}
}
