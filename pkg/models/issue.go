package models

import "time"

type IssueStatus string

const (
	IssueStatusOpen   IssueStatus = "open"
	IssueStatusClosed IssueStatus = "closed"
)

// Issue is an open finding that compensating controls can reference.
type Issue struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Title     string      `json:"title"    validate:"required,min=3"`
	Severity  string      `json:"severity" validate:"required,oneof=low medium high critical"`
	Status    IssueStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
}

// CompensatingControl is a temporary control justified by an open issue.
type CompensatingControl struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	IssueID     string    `json:"issue_id"    validate:"required"`
	Description string    `json:"description" validate:"required,min=10"`
	Owner       string    `json:"owner"       validate:"required"`
	ExpiresAt   time.Time `json:"expires_at"  validate:"required"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsActive reports whether the control is still in force at now for the given issue.
func (c *CompensatingControl) IsActive(issue *Issue, now time.Time) bool {
	return issue != nil &&
		issue.ID == c.IssueID &&
		issue.Status == IssueStatusOpen &&
		now.Before(c.ExpiresAt)
}
