package models

import "time"

// Preference is long-term personal data owned by one user of a tenant.
type Preference struct {
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	Values    map[string]any `json:"values"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SessionContext is conversational state isolated by session regardless of user.
type SessionContext struct {
	TenantID  string         `json:"tenant_id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Values    map[string]any `json:"values"`
	UpdatedAt time.Time      `json:"updated_at"`
}
