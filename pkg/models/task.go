package models

import "time"

type TaskType string

const (
	TaskTypeAttestation TaskType = "attestation"
	TaskTypeReview      TaskType = "review"
	TaskTypeApproval    TaskType = "approval"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

// DecisionOutcome is a human verdict. Only DecisionApproved opens an attestation gate.
type DecisionOutcome string

const (
	DecisionApproved            DecisionOutcome = "approved"
	DecisionApprovedWithChanges DecisionOutcome = "approved_with_changes"
	DecisionRejected            DecisionOutcome = "rejected"
)

// Valid reports whether o is a known outcome.
func (o DecisionOutcome) Valid() bool {
	switch o {
	case DecisionApproved, DecisionApprovedWithChanges, DecisionRejected:
		return true
	default:
		return false
	}
}

// Decision is one recorded verdict on a human task.
type Decision struct {
	Outcome   DecisionOutcome `json:"outcome"    validate:"required,oneof=approved approved_with_changes rejected"`
	Rationale string          `json:"rationale"`
	DecidedBy string          `json:"decided_by"`
	DecidedAt time.Time       `json:"decided_at"`
}

// HumanTask is work that needs a human decision, such as the cycle attestation.
type HumanTask struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	CycleID     string     `json:"cycle_id"`
	Type        TaskType   `json:"type"        validate:"required,oneof=attestation review approval"`
	Title       string     `json:"title"       validate:"required"`
	Description string     `json:"description,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Status      TaskStatus `json:"status"`
	Decisions   []Decision `json:"decisions"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LastDecision returns the most recent decision, or nil.
func (t *HumanTask) LastDecision() *Decision {
	if len(t.Decisions) == 0 {
		return nil
	}

	return &t.Decisions[len(t.Decisions)-1]
}

// IsApproved reports whether the last decision is exactly approved.
func (t *HumanTask) IsApproved() bool {
	last := t.LastDecision()

	return last != nil && last.Outcome == DecisionApproved
}
