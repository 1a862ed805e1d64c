package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries the caller's
// token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCoordinator grants leases with SET NX PX.
type RedisCoordinator struct {
	client redis.UniversalClient
	retry  time.Duration
}

// NewRedisCoordinator wraps client.
func NewRedisCoordinator(client redis.UniversalClient) *RedisCoordinator {
	return &RedisCoordinator{client: client, retry: defaultRetryInterval}
}

func (c *RedisCoordinator) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error) {
	token := newToken()
	var expiresAt time.Time
	err := acquireLoop(ctx, key, wait, c.retry, func() (bool, error) {
		ok, err := c.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			expiresAt = time.Now().Add(lease)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	return &Lease{Key: key, Token: token, ExpiresAt: expiresAt}, nil
}

func (c *RedisCoordinator) Release(ctx context.Context, lease *Lease) error {
	deleted, err := releaseScript.Run(ctx, c.client, []string{lease.Key}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", lease.Key, err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}
