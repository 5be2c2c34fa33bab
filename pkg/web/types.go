// Request and response bodies of the cycle API.
package web

import (
	"time"

	"github.com/dukex/regcycle/pkg/models"
)

// StartCycleRequest represents the request body for starting a cycle.
type StartCycleRequest struct {
	ReportID  string    `json:"report_id"  validate:"required"`
	PeriodEnd time.Time `json:"period_end" validate:"required"`
}

// UpdateStepRequest carries new step data and the version the writer last read.
type UpdateStepRequest struct {
	Data            map[string]any `json:"data"             validate:"required"`
	ExpectedVersion int64          `json:"expected_version" validate:"min=0"`
}

// ResolveConflictRequest selects a resolution strategy. Choices are only read for a merge.
type ResolveConflictRequest struct {
	Strategy models.ResolutionStrategy     `json:"strategy" validate:"required,oneof=keep_local keep_remote merge"`
	Choices  map[string]models.FieldChoice `json:"choices,omitempty"`
}

type BlockPhaseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CreateTaskRequest represents the request body for creating a human task in a cycle.
type CreateTaskRequest struct {
	Type        models.TaskType `json:"type"        validate:"required"`
	Title       string          `json:"title"       validate:"required"`
	Description string          `json:"description"`
	AssignedTo  string          `json:"assigned_to"`
}

type DecisionRequest struct {
	Outcome   models.DecisionOutcome `json:"outcome"   validate:"required"`
	Rationale string                 `json:"rationale"`
}

type ReconcileRequest struct {
	Items []models.ArtifactItem `json:"items"`
}

type ReviewDecisionRequest struct {
	Key     string `json:"key"     validate:"required"`
	Approve bool   `json:"approve"`
}

type ValuesRequest struct {
	Values map[string]any `json:"values"`
}

// GatesResponse reports the gates of a cycle.
type GatesResponse struct {
	AttestationComplete            bool `json:"attestation_complete"`
	CanTransitionToSubmissionReady bool `json:"can_transition_to_submission_ready"`
}
