package models

import "time"

// ArtifactItem is one entry of a generated artifact, such as a data element.
type ArtifactItem struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Artifact is the persisted version of a generated item collection.
type Artifact struct {
	TenantID  string         `json:"tenant_id"`
	CycleID   string         `json:"cycle_id"`
	Type      string         `json:"type"`
	Items     []ArtifactItem `json:"items"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ReconciliationStatus string

const (
	ReconciliationMatched  ReconciliationStatus = "matched"
	ReconciliationAdded    ReconciliationStatus = "added"
	ReconciliationRemoved  ReconciliationStatus = "removed"
	ReconciliationModified ReconciliationStatus = "modified"
)

// FieldDifference is a field whose value changed between the stored and incoming item.
type FieldDifference struct {
	Field         string `json:"field"`
	ExistingValue any    `json:"existing_value"`
	NewValue      any    `json:"new_value"`
}

// ReconciliationItem is the classification of one compared entity.
type ReconciliationItem struct {
	Key           string               `json:"key"`
	Status        ReconciliationStatus `json:"status"`
	ExistingValue *ArtifactItem        `json:"existing_value,omitempty"`
	NewValue      *ArtifactItem        `json:"new_value,omitempty"`
	Differences   []FieldDifference    `json:"differences,omitempty"`
}

// ReconciliationResult aggregates items with per-status counters.
type ReconciliationResult struct {
	Items    []ReconciliationItem `json:"items"`
	Matched  int                  `json:"matched"`
	Added    int                  `json:"added"`
	Removed  int                  `json:"removed"`
	Modified int                  `json:"modified"`
}

type ReviewStatus string

const (
	ReviewStatusPending ReviewStatus = "pending"
	ReviewStatusApplied ReviewStatus = "applied"
)

// ReconciliationReview holds a reconciliation awaiting reviewer decisions.
type ReconciliationReview struct {
	ID           string               `json:"id"`
	TenantID     string               `json:"tenant_id"`
	CycleID      string               `json:"cycle_id"`
	ArtifactType string               `json:"artifact_type"`
	BaseVersion  int64                `json:"base_version"`
	Result       ReconciliationResult `json:"result"`
	Decisions    map[string]bool      `json:"decisions"`
	Status       ReviewStatus         `json:"status"`
	CreatedBy    string               `json:"created_by"`
	CreatedAt    time.Time            `json:"created_at"`
	AppliedAt    *time.Time           `json:"applied_at,omitempty"`
}
