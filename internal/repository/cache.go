package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cache defines the key/value operations used for read models.
// Implemented in process memory or in Redis.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes values by key. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// CacheError represents a cache error type.
type CacheError string

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"

	// ErrCacheUnavailable indicates the cache is unavailable.
	ErrCacheUnavailable CacheError = "cache unavailable"
)

func (e CacheError) Error() string {
	return string(e)
}

// CacheKey generates cache keys for common scenarios.
type CacheKey struct{}

// CacheKeys is the shared CacheKey value.
var CacheKeys CacheKey

// ProjectProgress returns the cache key for a project's progress view.
func (CacheKey) ProjectProgress(id uuid.UUID) string {
	return "cache:project:progress:" + id.String()
}

// UserPoints returns the cache key for a user's points view.
func (CacheKey) UserPoints(id uuid.UUID) string {
	return "cache:user:points:" + id.String()
}
