// Package shared contains common domain types, errors and events used across all
// domain packages. This package has zero external dependencies.
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
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrTransient          = errors.New("transient failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "achievement", "xprules"
	Op      string // Operation that failed, e.g., "Apply", "Claim"
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

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
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

// Progress domain errors
var (
	ErrProgressNotFound  = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrInvalidUserID     = NewDomainError("progress", "Validate", ErrInvalidID, "invalid user ID")
	ErrUnknownCategory   = NewDomainError("progress", "Validate", ErrInvalidInput, "unknown category")
	ErrVersionConflict   = NewDomainError("progress", "Apply", ErrConcurrentModification, "progress record changed since it was read")
	ErrDuplicateToken    = NewDomainError("progress", "Apply", ErrAlreadyProcessed, "event token already applied")
	ErrTransactionAbsent = NewDomainError("progress", "FindTransaction", ErrNotFound, "transaction not found")
)

// Event contract errors
var (
	ErrMissingToken   = NewDomainError("event", "Validate", ErrEmptyValue, "token is required")
	ErrMissingSource  = NewDomainError("event", "Validate", ErrEmptyValue, "source is required")
	ErrMissingAction  = NewDomainError("event", "Validate", ErrEmptyValue, "action is required")
	ErrAlreadyReverse = NewDomainError("event", "Reverse", ErrAlreadyProcessed, "transaction already reversed")
)

// Achievement domain errors
var (
	ErrAchievementNotFound  = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrInvalidRequirement   = NewDomainError("achievement", "Validate", ErrInvalidInput, "invalid requirement")
	ErrDuplicateAchievement = NewDomainError("achievement", "Validate", ErrAlreadyExists, "duplicate achievement id")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsConflict checks if the error reports a duplicate or already-processed operation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrAlreadyExists)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
