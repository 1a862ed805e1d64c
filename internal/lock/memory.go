package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryCoordinator is an in-process Coordinator for tests and single-node
// runs.
type MemoryCoordinator struct {
	mu     sync.Mutex
	leases map[string]Lease
	retry  time.Duration
	now    func() time.Time
}

// NewMemoryCoordinator creates an empty coordinator.
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		leases: make(map[string]Lease),
		retry:  time.Millisecond,
		now:    time.Now,
	}
}

func (c *MemoryCoordinator) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error) {
	var granted *Lease
	err := acquireLoop(ctx, key, wait, c.retry, func() (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		now := c.now()
		if held, ok := c.leases[key]; ok && now.Before(held.ExpiresAt) {
			return false, nil
		}
		l := Lease{Key: key, Token: newToken(), ExpiresAt: now.Add(lease)}
		c.leases[key] = l
		granted = &l
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}

func (c *MemoryCoordinator) Release(_ context.Context, lease *Lease) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	held, ok := c.leases[lease.Key]
	if !ok || held.Token != lease.Token {
		return ErrNotHeld
	}
	delete(c.leases, lease.Key)
	return nil
}
