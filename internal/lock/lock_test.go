package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryLocker(t *testing.T) *MemoryLocker {
	t.Helper()
	l := NewMemoryLocker()
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLocker(t)

	ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := l.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held)

	released, err := l.Release(ctx, "k")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = l.Release(ctx, "k")
	require.NoError(t, err)
	assert.False(t, released)

	ok, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLocker(t)

	ok, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	held, err := l.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.False(t, held)

	extended, err := l.Extend(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)

	ok, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	extended, err = l.Extend(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
}

func TestMemoryLocker_AcquireWithRetry(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLocker(t)

	ok, err := l.Acquire(ctx, "k", 30*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.AcquireWithRetry(ctx, "k", time.Minute, 1, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.AcquireWithRetry(ctx, "k", time.Minute, 20, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.AcquireWithRetry(cancelled, "k", time.Minute, 5, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLocker(t)
	policy := RetryPolicy{TTL: time.Minute, MaxRetries: 0, RetryDelay: time.Millisecond}

	t.Run("releases after fn", func(t *testing.T) {
		boom := errors.New("boom")
		err := Run(ctx, l, "k", policy, func(context.Context) error {
			held, err := l.IsHeld(ctx, "k")
			require.NoError(t, err)
			assert.True(t, held)
			return boom
		})
		require.ErrorIs(t, err, boom)

		held, err := l.IsHeld(ctx, "k")
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("busy lock", func(t *testing.T) {
		ok, err := l.Acquire(ctx, "busy", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		called := false
		err = Run(ctx, l, "busy", policy, func(context.Context) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrNotAcquired)
		assert.False(t, called)
	})

	t.Run("serialises concurrent callers", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			inside  int
			maxSeen int
		)
		wait := RetryPolicy{TTL: time.Minute, MaxRetries: 500, RetryDelay: time.Millisecond}

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := Run(ctx, l, "shared", wait, func(context.Context) error {
					mu.Lock()
					inside++
					if inside > maxSeen {
						maxSeen = inside
					}
					mu.Unlock()

					time.Sleep(2 * time.Millisecond)

					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
	})
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("6f1c0d1e-8f7a-4d3b-9a44-3f2f0f3b8e21")

	assert.Equal(t, "lock:project:6f1c0d1e-8f7a-4d3b-9a44-3f2f0f3b8e21", Keys.Project(id))
	assert.Equal(t, "lock:user:6f1c0d1e-8f7a-4d3b-9a44-3f2f0f3b8e21", Keys.User(id))
	assert.Equal(t, "lock:closing:sweep", Keys.ClosingSweep())
}

func TestLock_Wrapper(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLocker(t)

	lk := NewLock(l, "k")
	require.NoError(t, lk.Release(ctx))

	ok, err := lk.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, lk.IsHeld())
	require.NoError(t, lk.Extend(ctx, time.Minute))

	require.NoError(t, lk.Release(ctx))
	assert.False(t, lk.IsHeld())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("CROWDFUND_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CROWDFUND_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	key := "lock:test:" + uuid.NewString()
	a := NewRedisLocker(client)
	b := NewRedisLocker(client)

	ok, err := a.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// b never held the key, so it cannot free it.
	released, err := b.Release(ctx, key)
	require.NoError(t, err)
	assert.False(t, released)

	extended, err := a.Extend(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	released, err = a.Release(ctx, key)
	require.NoError(t, err)
	assert.True(t, released)

	held, err := b.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.False(t, held)
}
