package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

func newRedisCoordinator(t *testing.T) (*RedisCoordinator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisCoordinator(client)
	c.retry = 5 * time.Millisecond
	return c, mr
}

func TestRedisCoordinatorAcquireRelease(t *testing.T) {
	c, mr := newRedisCoordinator(t)
	ctx := context.Background()
	key := DocumentKey("doc-1")

	lease, err := c.TryAcquire(ctx, key, time.Second, 10*time.Second)
	require.NoError(t, err)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, lease.Token, got)
	assert.Equal(t, 10*time.Second, mr.TTL(key))

	_, err = c.TryAcquire(ctx, key, 20*time.Millisecond, 10*time.Second)
	assert.Equal(t, errors.ReasonLockTimeout, errors.ReasonOf(err))

	require.NoError(t, c.Release(ctx, lease))
	assert.False(t, mr.Exists(key))
}

func TestRedisCoordinatorExpiredLeaseIsNotReleasedByStaleHolder(t *testing.T) {
	c, mr := newRedisCoordinator(t)
	ctx := context.Background()
	key := DocumentKey("doc-1")

	stale, err := c.TryAcquire(ctx, key, time.Second, 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	fresh, err := c.TryAcquire(ctx, key, time.Second, 10*time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Release(ctx, stale), ErrNotHeld)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, fresh.Token, got)
}
