package models

import "time"

// Presence is the last known position of a user inside a cycle.
type Presence struct {
	TenantID     string    `json:"tenant_id"`
	CycleID      string    `json:"cycle_id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id,omitempty"`
	PhaseID      PhaseID   `json:"phase_id,omitempty"`
	StepID       string    `json:"step_id,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
