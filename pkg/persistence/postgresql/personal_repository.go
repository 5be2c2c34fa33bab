package postgresql

import (
	"context"
	"database/sql"

	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
)

// PreferenceRepository stores long-term personal data keyed by tenant and user.
type PreferenceRepository struct {
	db *sql.DB
}

func (r *PreferenceRepository) Save(ctx context.Context, preference *models.Preference) error {
	document, err := marshalDocument(preference)
	if err != nil {
		return persistence.NewEntityError("Save", "preference", preference.TenantID, preference.UserID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO preferences (tenant_id, user_id, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET document = EXCLUDED.document
	`, preference.TenantID, preference.UserID, document)
	if err != nil {
		return persistence.NewEntityError("Save", "preference", preference.TenantID, preference.UserID, err)
	}

	return nil
}

func (r *PreferenceRepository) Get(ctx context.Context, tenantID, userID string) (*models.Preference, error) {
	preference, found, err := getDocument[models.Preference](ctx, r.db,
		`SELECT document FROM preferences WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return nil, persistence.NewEntityError("Get", "preference", tenantID, userID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("Get", "preference", tenantID, userID, persistence.ErrPreferenceNotFound)
	}

	return preference, nil
}

// SessionRepository stores conversational context keyed by tenant and session.
type SessionRepository struct {
	db *sql.DB
}

func (r *SessionRepository) Save(ctx context.Context, session *models.SessionContext) error {
	document, err := marshalDocument(session)
	if err != nil {
		return persistence.NewEntityError("Save", "session", session.TenantID, session.SessionID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO session_contexts (tenant_id, session_id, user_id, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			document = EXCLUDED.document
	`, session.TenantID, session.SessionID, session.UserID, document)
	if err != nil {
		return persistence.NewEntityError("Save", "session", session.TenantID, session.SessionID, err)
	}

	return nil
}

func (r *SessionRepository) Get(ctx context.Context, tenantID, sessionID string) (*models.SessionContext, error) {
	session, found, err := getDocument[models.SessionContext](ctx, r.db,
		`SELECT document FROM session_contexts WHERE tenant_id = $1 AND session_id = $2`, tenantID, sessionID)
	if err != nil {
		return nil, persistence.NewEntityError("Get", "session", tenantID, sessionID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("Get", "session", tenantID, sessionID, persistence.ErrSessionNotFound)
	}

	return session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, tenantID, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM session_contexts WHERE tenant_id = $1 AND session_id = $2`, tenantID, sessionID)
	if err != nil {
		return persistence.NewEntityError("Delete", "session", tenantID, sessionID, err)
	}

	return nil
}
