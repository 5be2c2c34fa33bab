// Package models defines the domain models of the compliance cycle coordinator.
package models

import "time"

// CycleStatus represents the lifecycle state of a cycle.
type CycleStatus string

const (
	CycleStatusActive          CycleStatus = "active"
	CycleStatusSubmissionReady CycleStatus = "submission_ready"
	CycleStatusArchived        CycleStatus = "archived"
)

// PhaseID names a phase. Phases always appear in PhaseOrder.
type PhaseID string

const (
	PhaseScoping        PhaseID = "scoping"
	PhaseDataCollection PhaseID = "data_collection"
	PhaseValidation     PhaseID = "validation"
	PhaseReview         PhaseID = "review"
	PhaseAttestation    PhaseID = "attestation"
	PhaseSubmission     PhaseID = "submission"
)

// PhaseOrder is the canonical completion order of phases.
var PhaseOrder = []PhaseID{
	PhaseScoping,
	PhaseDataCollection,
	PhaseValidation,
	PhaseReview,
	PhaseAttestation,
	PhaseSubmission,
}

// PhaseIndex returns the position of id in PhaseOrder, or -1.
func PhaseIndex(id PhaseID) int {
	for i, p := range PhaseOrder {
		if p == id {
			return i
		}
	}

	return -1
}

type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusBlocked    PhaseStatus = "blocked"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
)

// Cycle is one governance workflow instance tied to a report period.
type Cycle struct {
	ID                string      `json:"id"`
	TenantID          string      `json:"tenant_id"`
	ReportID          string      `json:"report_id"`
	PeriodEnd         time.Time   `json:"period_end"`
	Status            CycleStatus `json:"status"`
	CurrentPhaseID    PhaseID     `json:"current_phase_id"`
	Phases            []*Phase    `json:"phases"`
	AttestationTaskID string      `json:"attestation_task_id"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         time.Time   `json:"created_at"`
	// LastModifiedAt is informational; step data conflicts are arbitrated by step versions.
	LastModifiedAt time.Time  `json:"last_modified_at"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	// Revision counts saves of the document. A save based on an older revision is refused.
	Revision int64 `json:"revision"`
}

// Phase groups ordered steps.
type Phase struct {
	ID             PhaseID     `json:"id"`
	Name           string      `json:"name"`
	Status         PhaseStatus `json:"status"`
	BlockingReason string      `json:"blocking_reason,omitempty"`
	Steps          []*Step     `json:"steps"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// Step is the unit of collaborative work.
type Step struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Status           StepStatus     `json:"status"`
	IsRequired       bool           `json:"is_required"`
	RequiredFields   []string       `json:"required_fields,omitempty"`
	Schema           map[string]any `json:"schema,omitempty"`
	ValidationErrors []string       `json:"validation_errors"`
	Data             map[string]any `json:"data"`
	Version          int64          `json:"version"`
	UpdatedBy        string         `json:"updated_by,omitempty"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
}

// Phase returns the phase with the given id.
func (c *Cycle) Phase(id PhaseID) *Phase {
	for _, p := range c.Phases {
		if p.ID == id {
			return p
		}
	}

	return nil
}

// FindStep returns the step and its owning phase.
func (c *Cycle) FindStep(stepID string) (*Phase, *Step) {
	for _, p := range c.Phases {
		for _, s := range p.Steps {
			if s.ID == stepID {
				return p, s
			}
		}
	}

	return nil, nil
}

// RefreshCurrentPhase sets CurrentPhaseID to the first phase that is not completed,
// or to "" once every phase has completed.
func (c *Cycle) RefreshCurrentPhase() {
	for _, p := range c.Phases {
		if p.Status != PhaseStatusCompleted {
			c.CurrentPhaseID = p.ID

			return
		}
	}

	c.CurrentPhaseID = ""
}

// PredecessorsCompleted reports whether every phase before id has completed.
func (c *Cycle) PredecessorsCompleted(id PhaseID) bool {
	for _, p := range c.Phases {
		if p.ID == id {
			return true
		}

		if p.Status != PhaseStatusCompleted {
			return false
		}
	}

	return false
}

// BlockingItem names a step that prevents its phase from completing.
type BlockingItem struct {
	StepID           string     `json:"step_id"`
	StepName         string     `json:"step_name"`
	Status           StepStatus `json:"status"`
	IsRequired       bool       `json:"is_required"`
	ValidationErrors []string   `json:"validation_errors,omitempty"`
}

// PhaseValidationResult is the outcome of a phase validation pass.
type PhaseValidationResult struct {
	PhaseID       PhaseID        `json:"phase_id"`
	BlockingItems []BlockingItem `json:"blocking_items"`
}

// Valid reports whether the phase has no blocking items.
func (v PhaseValidationResult) Valid() bool {
	return len(v.BlockingItems) == 0
}
