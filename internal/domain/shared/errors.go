// Package shared contains common domain types, errors, and events that are
// used across the classroom monitor. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "feed", "help", "activity"
	Op      string // Operation that failed, e.g., "Subscribe", "Resolve"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching. A wrapped DomainError also matches the
// sentinel it was derived from, so callers can test against the package-level
// values below.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Kind == t.Kind
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of the sentinel carrying err as its cause.
func (e *DomainError) Wrap(err error) *DomainError {
	return WrapError(e.Domain, e.Op, e.Kind, e.Message, err)
}

// Event feed errors
var (
	ErrFeedSubscription = NewDomainError("feed", "Subscribe", ErrServiceUnavailable, "event feed subscription failed")
	ErrBackfillRead     = NewDomainError("feed", "QueryRecent", ErrExternalService, "backfill read failed")
	ErrFeedClosed       = NewDomainError("feed", "Subscribe", ErrInvalidState, "event feed is closed")
)

// Activity errors
var (
	ErrMalformedEvent     = NewDomainError("activity", "Normalize", ErrInvalidFormat, "malformed event coerced to generic interaction")
	ErrStudentNotObserved = NewDomainError("activity", "Lookup", ErrNotFound, "student is not being observed")
	ErrStudentKeyEmpty    = NewDomainError("activity", "Observe", ErrEmptyValue, "student key cannot be empty")
	ErrSupervisorClosed   = NewDomainError("activity", "Observe", ErrInvalidState, "activity supervisor is closed")
	ErrAlreadyObserved    = NewDomainError("activity", "Observe", ErrAlreadyExists, "student is already observed")
)

// Help desk errors
var (
	ErrIdentityResolution = NewDomainError("help", "Resolve", ErrNotFound, "no student registered for address")
	ErrHelpDotStore       = NewDomainError("help", "Persist", ErrExternalService, "help dot storage failed")
	ErrNoRaisedHand       = NewDomainError("help", "Acknowledge", ErrStateTransition, "student has no raised hand")
	ErrNoHelpDot          = NewDomainError("help", "Dismiss", ErrStateTransition, "student has no help dot")
)

// Log ingestion errors
var (
	ErrUnsupportedContentType = NewDomainError("ingest", "Parse", ErrInvalidInput, "unsupported content type")
	ErrInvalidLogFormat       = NewDomainError("ingest", "Parse", ErrInvalidFormat, "invalid log format")
	ErrLogStore               = NewDomainError("ingest", "Append", ErrExternalService, "log storage failed")
)

// Roster errors
var (
	ErrStudentNotFound = NewDomainError("student", "Find", ErrNotFound, "student not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsStateTransition checks if the error is an invalid state transition.
func IsStateTransition(err error) bool {
	return errors.Is(err, ErrStateTransition)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
