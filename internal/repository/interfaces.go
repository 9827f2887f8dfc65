// Package repository defines data access interfaces for the crowdfund server.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/prn-tf/crowdfund/internal/domain"
)

// =============================================================================
// Project Repository
// =============================================================================

// ProjectRepository defines the interface for project data access.
// Loaded projects carry their donations and participants.
type ProjectRepository interface {
	// Create inserts a new project with its donations and participants.
	// Returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, project *domain.Project) error

	// GetByID retrieves a project by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error)

	// Save upserts the project's fields and state and inserts any donations
	// and participants not stored yet, in a single transaction.
	Save(ctx context.Context, project *domain.Project) error

	// SaveDonation saves the project like Save and the donor's profile and
	// points like UserRepository.Save, in one transaction. If either write
	// fails nothing is stored.
	SaveDonation(ctx context.Context, project *domain.Project, donor *domain.User) error

	// Delete deletes a project and its donations.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns projects with pagination, newest first.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.Project], error)

	// ListByState returns up to limit projects in the given state, oldest end date first.
	ListByState(ctx context.Context, state domain.ProjectState, limit int) ([]*domain.Project, error)
}

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
// Loaded users carry their donation history, rebuilt from stored donations.
type UserRepository interface {
	// Create creates a new user.
	// Returns ErrAlreadyExists if the username or email is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByUsername retrieves a user by username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Save updates the profile fields and points balance of an existing user.
	Save(ctx context.Context, user *domain.User) error

	// List returns all users with pagination.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// ExistsByUsername checks if a user with the given username exists.
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// ExistsByEmail checks if a user with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common pagination options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// Normalize clamps the options to sane bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}
	return o
}

// Pagination bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}
