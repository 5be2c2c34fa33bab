// Package services provides the cycle coordinator's business operations and their error taxonomy.
package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/go-playground/validator/v10"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest             = errors.New("invalid request")
	ErrInvalidScope               = errors.New("tenant and user are required")
	ErrSessionRequired            = errors.New("session id is required")
	ErrInvalidDecision            = errors.New("invalid decision outcome")
	ErrInvalidCompensatingControl = errors.New("invalid compensating control")
	ErrStepValidationFailed       = errors.New("step validation failed")
	ErrUnknownChange              = errors.New("no reviewable change with that key")

	// Not Found Errors (404 Not Found).
	ErrPhaseNotFound = errors.New("phase not found")
	ErrStepNotFound  = errors.New("step not found")

	// Business Logic Conflicts (409 Conflict).
	ErrGateNotSatisfied  = errors.New("gate not satisfied")
	ErrPhaseNotActive    = errors.New("phase is not in progress")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStepRequired      = errors.New("required steps cannot be skipped")
	ErrCycleArchived     = errors.New("cycle is archived")
	ErrIssueClosed       = errors.New("issue is closed")
	ErrReviewApplied     = errors.New("reconciliation review already applied")
	ErrStaleReview       = errors.New("artifact changed since the review was created")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Gate names.
const (
	GatePhaseValidation = "phase_validation"
	GateAttestation     = "attestation"
)

// GateNotSatisfiedError reports a forward transition attempted before its gate holds. It names either
// the blocking steps of a phase or the human task whose approval is missing.
type GateNotSatisfiedError struct {
	Gate          string
	CycleID       string
	PhaseID       models.PhaseID
	TaskID        string
	BlockingItems []models.BlockingItem
}

func (e *GateNotSatisfiedError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s gate not satisfied for cycle %s: task %s is not approved", e.Gate, e.CycleID, e.TaskID)
	}

	ids := make([]string, 0, len(e.BlockingItems))
	for _, item := range e.BlockingItems {
		ids = append(ids, item.StepID)
	}

	return fmt.Sprintf("%s gate not satisfied for phase %s of cycle %s: blocked by %s",
		e.Gate, e.PhaseID, e.CycleID, strings.Join(ids, ", "))
}

func (e *GateNotSatisfiedError) Unwrap() error {
	return ErrGateNotSatisfied
}

// StepValidationError carries the validation messages that kept a step from completing.
type StepValidationError struct {
	StepID   string
	Messages []string
}

func (e *StepValidationError) Error() string {
	return fmt.Sprintf("step %s has validation errors: %s", e.StepID, strings.Join(e.Messages, "; "))
}

func (e *StepValidationError) Unwrap() error {
	return ErrStepValidationFailed
}

// ControlValidationError lists the field violations of a rejected compensating control.
type ControlValidationError struct {
	Messages []string
}

func (e *ControlValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidCompensatingControl, strings.Join(e.Messages, "; "))
}

func (e *ControlValidationError) Unwrap() error {
	return ErrInvalidCompensatingControl
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidScope) ||
		errors.Is(err, ErrSessionRequired) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrInvalidCompensatingControl) ||
		errors.Is(err, ErrStepValidationFailed) ||
		errors.Is(err, ErrUnknownChange) ||
		errors.Is(err, versioning.ErrInvalidResolution) ||
		errors.Is(err, persistence.ErrInvalidID)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrGateNotSatisfied) ||
		errors.Is(err, ErrPhaseNotActive) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrStepRequired) ||
		errors.Is(err, ErrCycleArchived) ||
		errors.Is(err, ErrIssueClosed) ||
		errors.Is(err, ErrReviewApplied) ||
		errors.Is(err, ErrStaleReview) ||
		errors.Is(err, locking.ErrLockConflict) ||
		errors.Is(err, versioning.ErrStaleResolution)
}

// IsGateError checks if an error reports an unmet transition gate.
func IsGateError(err error) bool {
	return errors.Is(err, ErrGateNotSatisfied)
}

// IsNotFoundError checks if an error references an entity that does not exist in the caller's tenant.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err) ||
		errors.Is(err, ErrPhaseNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, versioning.ErrConflictNotFound)
}

var validate = NewValidator()

// NewValidator returns a validator that names fields by their json tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}

		return name
	})

	return v
}

// FieldMessages turns validator errors into one message per field.
func FieldMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(verrs))

	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fe.Field()+" is required")
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}

	return messages
}

// checkRequest validates a request struct and wraps the violations as ErrInvalidRequest.
func checkRequest(op string, req any) error {
	if err := validate.Struct(req); err != nil {
		return NewValidationError(op, "invalid_request", strings.Join(FieldMessages(err), "; "), ErrInvalidRequest)
	}

	return nil
}

func checkScope(scope models.Scope) error {
	if strings.TrimSpace(scope.TenantID) == "" || strings.TrimSpace(scope.UserID) == "" {
		return ErrInvalidScope
	}

	return nil
}
