package models

import "strings"

// Scope identifies who is acting and on whose behalf. Every read path filters by TenantID;
// personal data additionally filters by UserID, conversational context by SessionID.
type Scope struct {
	TenantID  string `json:"tenant_id"  validate:"required"`
	UserID    string `json:"user_id"    validate:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// StepKey addresses a single step of a cycle within a tenant. Version snapshots and locks are keyed by it.
type StepKey struct {
	TenantID string `json:"tenant_id"`
	CycleID  string `json:"cycle_id"`
	StepID   string `json:"step_id"`
}

func (k StepKey) String() string {
	return strings.Join([]string{k.TenantID, k.CycleID, k.StepID}, "/")
}

// Request headers carrying the scope between client and API. Identity is verified upstream.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)
