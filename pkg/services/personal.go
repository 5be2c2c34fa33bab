package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// Personal stores data that belongs to one user (preferences) or one session (conversational
// context). Neither is ever visible to another user or session of the tenant.
type Personal struct {
	persistence persistence.Persistence
	settings    settings
	logger      *slog.Logger
}

func NewPersonal(persistence persistence.Persistence, logger *slog.Logger, opts ...Option) *Personal {
	return &Personal{
		persistence: persistence,
		settings:    newSettings(opts),
		logger:      logger.With("module", "personal"),
	}
}

// Preferences returns the caller's preferences, empty when none were saved.
func (p *Personal) Preferences(ctx context.Context, scope models.Scope) (*models.Preference, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	pref, err := p.persistence.PreferenceRepository().Get(ctx, scope.TenantID, scope.UserID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return &models.Preference{TenantID: scope.TenantID, UserID: scope.UserID, Values: map[string]any{}}, nil
		}

		return nil, err
	}

	return pref, nil
}

// SavePreferences replaces the caller's preferences.
func (p *Personal) SavePreferences(ctx context.Context, scope models.Scope, values map[string]any) (*models.Preference, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	if values == nil {
		values = map[string]any{}
	}

	pref := &models.Preference{
		TenantID:  scope.TenantID,
		UserID:    scope.UserID,
		Values:    values,
		UpdatedAt: p.settings.clock.Now().UTC(),
	}

	if err := p.persistence.PreferenceRepository().Save(ctx, pref); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}

	return pref, nil
}

func sessionScope(scope models.Scope) error {
	if err := checkScope(scope); err != nil {
		return err
	}

	if scope.SessionID == "" {
		return ErrSessionRequired
	}

	return nil
}

// SessionContext returns the context of the caller's session, empty when none was saved.
func (p *Personal) SessionContext(ctx context.Context, scope models.Scope) (*models.SessionContext, error) {
	if err := sessionScope(scope); err != nil {
		return nil, err
	}

	session, err := p.persistence.SessionRepository().Get(ctx, scope.TenantID, scope.SessionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return &models.SessionContext{
				TenantID:  scope.TenantID,
				SessionID: scope.SessionID,
				UserID:    scope.UserID,
				Values:    map[string]any{},
			}, nil
		}

		return nil, err
	}

	return session, nil
}

func (p *Personal) SaveSessionContext(ctx context.Context, scope models.Scope, values map[string]any) (*models.SessionContext, error) {
	if err := sessionScope(scope); err != nil {
		return nil, err
	}

	if values == nil {
		values = map[string]any{}
	}

	session := &models.SessionContext{
		TenantID:  scope.TenantID,
		SessionID: scope.SessionID,
		UserID:    scope.UserID,
		Values:    values,
		UpdatedAt: p.settings.clock.Now().UTC(),
	}

	if err := p.persistence.SessionRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session context: %w", err)
	}

	return session, nil
}

// ClearSessionContext drops the session's context, typically on logout.
func (p *Personal) ClearSessionContext(ctx context.Context, scope models.Scope) error {
	if err := sessionScope(scope); err != nil {
		return err
	}

	if err := p.persistence.SessionRepository().Delete(ctx, scope.TenantID, scope.SessionID); err != nil {
		return fmt.Errorf("failed to delete session context: %w", err)
	}

	p.logger.DebugContext(ctx, "session context cleared", "session_id", scope.SessionID)

	return nil
}
