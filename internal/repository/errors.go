package repository

import "errors"

// Repository errors
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique key (id, username or email) is taken.
	ErrAlreadyExists = errors.New("already exists")
)
