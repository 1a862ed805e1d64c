package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-wf-approvals/internal/repository"
)

func newPostgresCoordinator(t *testing.T) (*PostgresCoordinator, *database.DB) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, database.Config{DSN: dsn, MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, repository.Migrate(ctx, db))

	c := NewPostgresCoordinator(db)
	c.retry = 5 * time.Millisecond
	return c, db
}

func leaseToken(t *testing.T, db *database.DB, key string) string {
	t.Helper()
	var token string
	err := db.QueryRow(context.Background(),
		`SELECT token FROM approval_lock_leases WHERE lock_key = $1`, key).Scan(&token)
	if err != nil {
		return ""
	}
	return token
}

func TestPostgresCoordinatorAcquireRelease(t *testing.T) {
	c, db := newPostgresCoordinator(t)
	ctx := context.Background()
	key := DocumentKey(uuid.NewString())

	lease, err := c.TryAcquire(ctx, key, time.Second, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, lease.Token, leaseToken(t, db, key))
	assert.WithinDuration(t, time.Now().Add(10*time.Second), lease.ExpiresAt, 5*time.Second)

	_, err = c.TryAcquire(ctx, key, 20*time.Millisecond, 10*time.Second)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Equal(t, errors.ReasonLockTimeout, errors.ReasonOf(err))

	require.NoError(t, c.Release(ctx, lease))
	assert.Empty(t, leaseToken(t, db, key))
	assert.ErrorIs(t, c.Release(ctx, lease), ErrNotHeld)
}

func TestPostgresCoordinatorExpiredLeaseIsNotReleasedByStaleHolder(t *testing.T) {
	c, db := newPostgresCoordinator(t)
	ctx := context.Background()
	key := DocumentKey(uuid.NewString())

	stale, err := c.TryAcquire(ctx, key, time.Second, 100*time.Millisecond)
	require.NoError(t, err)

	fresh, err := c.TryAcquire(ctx, key, 2*time.Second, 10*time.Second)
	require.NoError(t, err, "expired lease is taken over")

	assert.ErrorIs(t, c.Release(ctx, stale), ErrNotHeld)
	assert.Equal(t, fresh.Token, leaseToken(t, db, key))

	require.NoError(t, c.Release(ctx, fresh))
}

func TestPostgresCoordinatorMutualExclusion(t *testing.T) {
	c, _ := newPostgresCoordinator(t)
	ctx := context.Background()
	key := DocumentKey(uuid.NewString())

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := c.TryAcquire(ctx, key, 10*time.Second, time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, c.Release(ctx, l))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}
