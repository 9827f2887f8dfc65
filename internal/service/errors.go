// Package service provides the business services of the crowdfund server.
package service

import (
	"errors"

	"github.com/prn-tf/crowdfund/internal/domain"
)

// Common service errors.
var (
	// Project errors
	ErrProjectNotFound = errors.New("project not found")

	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPassword    = errors.New("invalid password: must be at least 8 characters")
	ErrInvalidUsername    = errors.New("invalid username: must be 3-255 characters")
	ErrInvalidEmail       = errors.New("invalid email format")

	// Concurrency errors
	ErrResourceBusy = errors.New("resource is busy, retry later")

	// General errors
	ErrInternalError = errors.New("internal server error")
)

// IsInvalidInput reports whether err was caused by caller input,
// either a domain validation failure or a rejected user field.
func IsInvalidInput(err error) bool {
	return domain.IsValidationError(err) ||
		errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrInvalidUsername) ||
		errors.Is(err, ErrInvalidEmail)
}
