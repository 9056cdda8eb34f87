package application

import (
	"errors"
	"fmt"

	"github.com/example/event-matchmaker/internal/persistence"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
)

// ValidationCode classifies a rejected request.
type ValidationCode string

const (
	CodeDuplicateInteraction ValidationCode = "duplicate_interaction"
	CodeSelfInteraction      ValidationCode = "self_interaction"
	CodeNotMember            ValidationCode = "not_member"
	CodeInvalidAction        ValidationCode = "invalid_action"
	CodeUnknownSession       ValidationCode = "unknown_session"
	CodeInvalidInput         ValidationCode = "invalid_input"
)

// Sentinel validation errors for use with errors.Is.
var (
	ErrDuplicateInteraction = &ValidationError{Code: CodeDuplicateInteraction}
	ErrSelfInteraction      = &ValidationError{Code: CodeSelfInteraction}
	ErrNotMember            = &ValidationError{Code: CodeNotMember}
	ErrInvalidAction        = &ValidationError{Code: CodeInvalidAction}
	ErrUnknownSession       = &ValidationError{Code: CodeUnknownSession}
)

// ValidationError captures a rejected request along with field level detail that callers can surface to users.
type ValidationError struct {
	Code        ValidationCode
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if v.Code == "" {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", v.Code)
}

// Is matches any validation error carrying the same code.
func (v *ValidationError) Is(target error) bool {
	other, ok := target.(*ValidationError)
	if !ok || v == nil || other == nil {
		return false
	}
	return other.Code != "" && other.Code == v.Code
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func newValidationError(code ValidationCode, field, message string) *ValidationError {
	v := &ValidationError{Code: code}
	v.add(field, message)
	return v
}

// FailureReason classifies why a match could not be given a meeting.
type FailureReason string

const (
	ReasonNoOverlappingSessions FailureReason = "no_overlapping_sessions"
	ReasonEventDatesUnset       FailureReason = "event_dates_unset"
	ReasonNoEligibleLocations   FailureReason = "no_eligible_locations"
	ReasonCapacityExhausted     FailureReason = "capacity_exhausted"
	ReasonMatchInactive         FailureReason = "match_inactive"
	ReasonSystemError           FailureReason = "system_error"
)

// Message is the human readable text stored on the match.
func (r FailureReason) Message() string {
	switch r {
	case ReasonNoOverlappingSessions:
		return "No overlapping session availability"
	case ReasonEventDatesUnset:
		return "Event dates not set"
	case ReasonNoEligibleLocations:
		return "No meeting points configured for overlapping sessions"
	case ReasonCapacityExhausted:
		return "No available meeting points in overlapping sessions"
	case ReasonMatchInactive:
		return "Match is no longer active"
	case ReasonSystemError:
		return "System error during assignment"
	default:
		return string(r)
	}
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}
