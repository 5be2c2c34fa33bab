package models

import "time"

// VersionedSnapshot is the system-of-record value of a step's data.
type VersionedSnapshot struct {
	StepID       string         `json:"step_id"`
	Version      int64          `json:"version"`
	Data         map[string]any `json:"data"`
	WriterUserID string         `json:"writer_user_id"`
	Timestamp    time.Time      `json:"timestamp"`
}

// FieldConflict is a single field whose value differs between two snapshots.
type FieldConflict struct {
	Field       string `json:"field"`
	LocalValue  any    `json:"local_value"`
	RemoteValue any    `json:"remote_value"`
}

// ConflictRecord describes a stale write that differs from the current snapshot.
type ConflictRecord struct {
	ID            string            `json:"id"`
	StepKey       StepKey           `json:"step_key"`
	Local         VersionedSnapshot `json:"local"`
	Remote        VersionedSnapshot `json:"remote"`
	DetectedAt    time.Time         `json:"detected_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	LocalVersion  int64             `json:"local_version"`
	RemoteVersion int64             `json:"remote_version"`
	Fields        []FieldConflict   `json:"fields"`
}

// FieldNames lists the conflicting field names.
func (c *ConflictRecord) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Field)
	}

	return names
}

// ResolutionStrategy selects how a conflict is resolved.
type ResolutionStrategy string

const (
	ResolutionKeepLocal  ResolutionStrategy = "keep_local"
	ResolutionKeepRemote ResolutionStrategy = "keep_remote"
	ResolutionMerge      ResolutionStrategy = "merge"
)

// FieldChoice picks a side for one field during a manual merge.
type FieldChoice string

const (
	ChoiceLocal  FieldChoice = "local"
	ChoiceRemote FieldChoice = "remote"
)
