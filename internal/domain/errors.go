// Package domain contains the core business entities for Crowdfund.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Validation Errors
	// ===========================================

	// ErrNotPositive indicates an amount, fund or points argument is negative.
	ErrNotPositive = errors.New("value must not be negative")

	// ErrInvalidFactor indicates the project factor is outside 0-100000.
	ErrInvalidFactor = errors.New("factor must be between 0 and 100000")

	// ErrInvalidPercentage indicates the minimum close percentage is outside 50-100.
	ErrInvalidPercentage = errors.New("minimum close percentage must be between 50 and 100")

	// ErrInvalidDateRange indicates the end date is not after the start date.
	ErrInvalidDateRange = errors.New("end date must be after start date")

	// ErrInvalidTargetFunds indicates the funding target is not strictly positive.
	ErrInvalidTargetFunds = errors.New("target funds must be greater than zero")

	// ErrMissingDonor indicates a donation was made without a donor.
	ErrMissingDonor = errors.New("donation requires a donor")

	// ===========================================
	// Points Errors
	// ===========================================

	// ErrInsufficientPoints indicates a spend would drive the balance below zero.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidPointsPolicy indicates an unknown points underflow policy name.
	ErrInvalidPointsPolicy = errors.New("invalid points policy")

	// ===========================================
	// Project State Errors
	// ===========================================

	// ErrInvalidProjectState indicates an unknown project state name.
	ErrInvalidProjectState = errors.New("invalid project state")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Field identifies the attribute that failed validation (e.g., "factor").
	Field string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Field)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, field string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Field:   field,
	}
}

// IsValidationError reports whether err is one of the validation failures a
// caller should surface as a bad request.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNotPositive) ||
		errors.Is(err, ErrInvalidFactor) ||
		errors.Is(err, ErrInvalidPercentage) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrInvalidTargetFunds) ||
		errors.Is(err, ErrMissingDonor) ||
		errors.Is(err, ErrInsufficientPoints)
}
