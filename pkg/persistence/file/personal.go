package file

import (
	"context"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// PreferenceRepository stores one document per user: tenants/<tenant>/preferences/<user>.json.
type PreferenceRepository struct {
	docs *documents
}

func (r *PreferenceRepository) Save(_ context.Context, preference *models.Preference) error {
	if err := r.docs.write(preference, preference.TenantID, "preferences", preference.UserID); err != nil {
		return persistence.NewEntityError("Save", "preference", preference.TenantID, preference.UserID, err)
	}

	return nil
}

func (r *PreferenceRepository) Get(_ context.Context, tenantID, userID string) (*models.Preference, error) {
	var preference models.Preference

	found, err := r.docs.read(&preference, tenantID, "preferences", userID)
	if err != nil {
		return nil, persistence.NewEntityError("Get", "preference", tenantID, userID, err)
	}

	if !found || preference.TenantID != tenantID || preference.UserID != userID {
		return nil, persistence.NewEntityError("Get", "preference", tenantID, userID, persistence.ErrPreferenceNotFound)
	}

	return &preference, nil
}

// SessionRepository stores one document per session: tenants/<tenant>/sessions/<session>.json.
type SessionRepository struct {
	docs *documents
}

func (r *SessionRepository) Save(_ context.Context, session *models.SessionContext) error {
	if err := r.docs.write(session, session.TenantID, "sessions", session.SessionID); err != nil {
		return persistence.NewEntityError("Save", "session", session.TenantID, session.SessionID, err)
	}

	return nil
}

func (r *SessionRepository) Get(_ context.Context, tenantID, sessionID string) (*models.SessionContext, error) {
	var session models.SessionContext

	found, err := r.docs.read(&session, tenantID, "sessions", sessionID)
	if err != nil {
		return nil, persistence.NewEntityError("Get", "session", tenantID, sessionID, err)
	}

	if !found || session.TenantID != tenantID || session.SessionID != sessionID {
		return nil, persistence.NewEntityError("Get", "session", tenantID, sessionID, persistence.ErrSessionNotFound)
	}

	return &session, nil
}

func (r *SessionRepository) Delete(_ context.Context, tenantID, sessionID string) error {
	if err := r.docs.remove(tenantID, "sessions", sessionID); err != nil {
		return persistence.NewEntityError("Delete", "session", tenantID, sessionID, err)
	}

	return nil
}
