package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrCycleNotFound indicates a cycle was not found within the tenant.
	ErrCycleNotFound = errors.New("cycle not found")

	// ErrTaskNotFound indicates a human task was not found within the tenant.
	ErrTaskNotFound = errors.New("task not found")

	// ErrIssueNotFound indicates an issue was not found within the tenant.
	ErrIssueNotFound = errors.New("issue not found")

	// ErrArtifactNotFound indicates no artifact of the type is stored for the cycle.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrReviewNotFound indicates a reconciliation review was not found within the tenant.
	ErrReviewNotFound = errors.New("reconciliation review not found")

	// ErrPreferenceNotFound indicates the user has no stored preferences.
	ErrPreferenceNotFound = errors.New("preference not found")

	// ErrSessionNotFound indicates no context is stored for the session.
	ErrSessionNotFound = errors.New("session context not found")

	// ErrInvalidID indicates an identifier that is empty or unsafe to use as a storage key.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrRevisionConflict indicates the document was saved by someone else since it was loaded.
	ErrRevisionConflict = errors.New("document revision changed")
)

// EntityError wraps a persistence error with the operation and the entity it concerned.
type EntityError struct {
	Op       string // Operation being performed (e.g., "GetByID", "Save")
	Entity   string // Entity kind (e.g., "cycle", "task")
	TenantID string
	ID       string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s in tenant %s: %v", e.Op, e.Entity, e.ID, e.TenantID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, tenantID, id string, err error) *EntityError {
	return &EntityError{
		Op:       op,
		Entity:   entity,
		TenantID: tenantID,
		ID:       id,
		Err:      err,
	}
}

func IsCycleNotFound(err error) bool {
	return errors.Is(err, ErrCycleNotFound)
}

func IsRevisionConflict(err error) bool {
	return errors.Is(err, ErrRevisionConflict)
}

func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

func IsIssueNotFound(err error) bool {
	return errors.Is(err, ErrIssueNotFound)
}

func IsArtifactNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound)
}

func IsReviewNotFound(err error) bool {
	return errors.Is(err, ErrReviewNotFound)
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrCycleNotFound, ErrTaskNotFound, ErrIssueNotFound, ErrArtifactNotFound,
		ErrReviewNotFound, ErrPreferenceNotFound, ErrSessionNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
