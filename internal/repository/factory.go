package repository

import "context"

// Repositories holds all repository instances.
type Repositories struct {
	Project ProjectRepository
	User    UserRepository
}

// Database is the connection behind a set of repositories.
// It satisfies handler.DatabaseChecker for health endpoints.
type Database interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error

	// Migrate applies pending embedded migrations.
	Migrate(ctx context.Context) error

	// MigrationVersion returns the highest applied migration, 0 if none.
	MigrationVersion(ctx context.Context) (int, error)

	// LatestMigration returns the highest embedded migration version.
	LatestMigration() (int, error)
}
