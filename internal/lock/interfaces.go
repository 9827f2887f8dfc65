// Package lock provides distributed and local locking abstractions.
// For single-node deployments, memory-based locks are used.
// For distributed deployments, Redis-based locks can be used.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Locker defines the interface for distributed/local locking.
// This abstraction allows switching between in-memory locks (single-node)
// and Redis-based locks (distributed) without changing business logic.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another process.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Lock is a convenience wrapper for a specific lock instance.
type Lock struct {
	locker Locker
	key    string
	held   bool
}

// NewLock creates a new Lock instance.
func NewLock(locker Locker, key string) *Lock {
	return &Lock{
		locker: locker,
		key:    key,
		held:   false,
	}
}

// Acquire attempts to acquire the lock.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	acquired, err := l.locker.Acquire(ctx, l.key, ttl)
	if err != nil {
		return false, err
	}
	l.held = acquired
	return acquired, nil
}

// Release releases the lock.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	_, err := l.locker.Release(ctx, l.key)
	l.held = false
	return err
}

// Extend extends the lock TTL.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.held {
		return nil
	}
	extended, err := l.locker.Extend(ctx, l.key, ttl)
	if err != nil {
		return err
	}
	if !extended {
		l.held = false
	}
	return nil
}

// IsHeld returns whether the lock is held.
func (l *Lock) IsHeld() bool {
	return l.held
}

// ErrNotAcquired is returned by Run when the lock stays held by someone else
// after every retry.
var ErrNotAcquired = errors.New("lock not acquired")

// RetryPolicy controls how Run waits for a busy lock.
type RetryPolicy struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultRetryPolicy suits short aggregate updates.
var DefaultRetryPolicy = RetryPolicy{
	TTL:        30 * time.Second,
	MaxRetries: 50,
	RetryDelay: 20 * time.Millisecond,
}

// Run acquires key, calls fn and releases the lock, even when fn fails.
// It returns ErrNotAcquired if the lock could not be taken.
func Run(ctx context.Context, locker Locker, key string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	acquired, err := locker.AcquireWithRetry(ctx, key, policy.TTL, policy.MaxRetries, policy.RetryDelay)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	defer func() {
		// Release with a fresh context so a cancelled caller still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = locker.Release(releaseCtx, key)
	}()

	return fn(ctx)
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// Project returns the lock key guarding a single project aggregate.
func (lockKeys) Project(id uuid.UUID) string {
	return "lock:project:" + id.String()
}

// User returns the lock key guarding a user's points and history.
func (lockKeys) User(id uuid.UUID) string {
	return "lock:user:" + id.String()
}

// ClosingSweep returns the lock key for the project closing sweeper.
// Only one instance sweeps at a time.
func (lockKeys) ClosingSweep() string {
	return "lock:closing:sweep"
}
