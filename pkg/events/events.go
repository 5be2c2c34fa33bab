// Package events defines the collaboration events published while a cycle is worked on.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every collaboration event.
const Topic = "regcycle.collaboration"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Presence events.
	UserJoinedEvent EventType = "user_joined"
	UserLeftEvent   EventType = "user_left"
	UserMovedEvent  EventType = "user_moved"

	// Step events.
	StepLockedEvent   EventType = "step_locked"
	StepUnlockedEvent EventType = "step_unlocked"
	StepUpdatedEvent  EventType = "step_updated"

	// Conflict events.
	ConflictDetectedEvent EventType = "conflict_detected"
	ConflictResolvedEvent EventType = "conflict_resolved"

	// Cycle lifecycle events.
	CycleStartedEvent         EventType = "cycle_started"
	PhaseAdvancedEvent        EventType = "phase_advanced"
	CycleSubmissionReadyEvent EventType = "cycle_submission_ready"
	CycleArchivedEvent        EventType = "cycle_archived"

	TaskCompletedEvent         EventType = "task_completed"
	ReconciliationAppliedEvent EventType = "reconciliation_applied"
)

// BaseEvent is the envelope shared by all events. The event specific body lives under "payload".
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
	CycleID   string    `json:"cycle_id"`
}

func NewBaseEvent(eventType EventType, tenantID, cycleID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at.UTC(),
		TenantID:  tenantID,
		CycleID:   cycleID,
	}
}

// Key is the partitioning key of the event: all events of a cycle stay ordered.
func (b BaseEvent) Key() string {
	return b.TenantID + "/" + b.CycleID
}

func (b BaseEvent) Tenant() string {
	return b.TenantID
}

type PresencePayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	PhaseID   string `json:"phase_id,omitempty"`
	StepID    string `json:"step_id,omitempty"`
}

type UserJoined struct {
	BaseEvent

	Payload PresencePayload `json:"payload"`
}

func (e UserJoined) GetType() EventType {
	return UserJoinedEvent
}

type UserLeft struct {
	BaseEvent

	Payload PresencePayload `json:"payload"`
}

func (e UserLeft) GetType() EventType {
	return UserLeftEvent
}

type UserMoved struct {
	BaseEvent

	Payload PresencePayload `json:"payload"`
}

func (e UserMoved) GetType() EventType {
	return UserMovedEvent
}

type LockPayload struct {
	StepID    string    `json:"step_id"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type StepLocked struct {
	BaseEvent

	Payload LockPayload `json:"payload"`
}

func (e StepLocked) GetType() EventType {
	return StepLockedEvent
}

type StepUnlocked struct {
	BaseEvent

	Payload LockPayload `json:"payload"`
}

func (e StepUnlocked) GetType() EventType {
	return StepUnlockedEvent
}

type StepPayload struct {
	StepID    string `json:"step_id"`
	Status    string `json:"status"`
	Version   int64  `json:"version"`
	UpdatedBy string `json:"updated_by"`
}

type StepUpdated struct {
	BaseEvent

	Payload StepPayload `json:"payload"`
}

func (e StepUpdated) GetType() EventType {
	return StepUpdatedEvent
}

type ConflictPayload struct {
	ConflictID    string   `json:"conflict_id"`
	StepID        string   `json:"step_id"`
	LocalVersion  int64    `json:"local_version"`
	RemoteVersion int64    `json:"remote_version"`
	Fields        []string `json:"fields,omitempty"`
	Strategy      string   `json:"strategy,omitempty"`
	NewVersion    int64    `json:"new_version,omitempty"`
	ActorID       string   `json:"actor_id"`
}

type ConflictDetected struct {
	BaseEvent

	Payload ConflictPayload `json:"payload"`
}

func (e ConflictDetected) GetType() EventType {
	return ConflictDetectedEvent
}

type ConflictResolved struct {
	BaseEvent

	Payload ConflictPayload `json:"payload"`
}

func (e ConflictResolved) GetType() EventType {
	return ConflictResolvedEvent
}

type CyclePayload struct {
	Status  string `json:"status"`
	PhaseID string `json:"phase_id,omitempty"`
	ActorID string `json:"actor_id"`
}

type CycleStarted struct {
	BaseEvent

	Payload CyclePayload `json:"payload"`
}

func (e CycleStarted) GetType() EventType {
	return CycleStartedEvent
}

type PhaseAdvanced struct {
	BaseEvent

	Payload CyclePayload `json:"payload"`
}

func (e PhaseAdvanced) GetType() EventType {
	return PhaseAdvancedEvent
}

type CycleSubmissionReady struct {
	BaseEvent

	Payload CyclePayload `json:"payload"`
}

func (e CycleSubmissionReady) GetType() EventType {
	return CycleSubmissionReadyEvent
}

type CycleArchived struct {
	BaseEvent

	Payload CyclePayload `json:"payload"`
}

func (e CycleArchived) GetType() EventType {
	return CycleArchivedEvent
}

type TaskPayload struct {
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	Outcome   string `json:"outcome"`
	DecidedBy string `json:"decided_by"`
}

type TaskCompleted struct {
	BaseEvent

	Payload TaskPayload `json:"payload"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type ReconciliationPayload struct {
	ReviewID     string `json:"review_id"`
	ArtifactType string `json:"artifact_type"`
	Version      int64  `json:"version"`
	Applied      int    `json:"applied"`
	Rejected     int    `json:"rejected"`
	ActorID      string `json:"actor_id"`
}

type ReconciliationApplied struct {
	BaseEvent

	Payload ReconciliationPayload `json:"payload"`
}

func (e ReconciliationApplied) GetType() EventType {
	return ReconciliationAppliedEvent
}

// New returns an empty event of the given type, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case UserJoinedEvent:
		return &UserJoined{}, true
	case UserLeftEvent:
		return &UserLeft{}, true
	case UserMovedEvent:
		return &UserMoved{}, true
	case StepLockedEvent:
		return &StepLocked{}, true
	case StepUnlockedEvent:
		return &StepUnlocked{}, true
	case StepUpdatedEvent:
		return &StepUpdated{}, true
	case ConflictDetectedEvent:
		return &ConflictDetected{}, true
	case ConflictResolvedEvent:
		return &ConflictResolved{}, true
	case CycleStartedEvent:
		return &CycleStarted{}, true
	case PhaseAdvancedEvent:
		return &PhaseAdvanced{}, true
	case CycleSubmissionReadyEvent:
		return &CycleSubmissionReady{}, true
	case CycleArchivedEvent:
		return &CycleArchived{}, true
	case TaskCompletedEvent:
		return &TaskCompleted{}, true
	case ReconciliationAppliedEvent:
		return &ReconciliationApplied{}, true
	default:
		return nil, false
	}
}

// Types lists every collaboration event type.
var Types = []EventType{
	UserJoinedEvent, UserLeftEvent, UserMovedEvent,
	StepLockedEvent, StepUnlockedEvent, StepUpdatedEvent,
	ConflictDetectedEvent, ConflictResolvedEvent,
	CycleStartedEvent, PhaseAdvancedEvent, CycleSubmissionReadyEvent, CycleArchivedEvent,
	TaskCompletedEvent, ReconciliationAppliedEvent,
}
