// Package lock provides time-bounded mutual exclusion leases shared across
// processes. A lease expires on its own after its TTL so a crashed holder
// cannot block others forever, and a lease is only released by the holder
// whose token still owns it.
package lock

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

// ErrNotHeld is returned by Release when the lease expired and the key is
// now free or owned by someone else. Nothing was deleted.
var ErrNotHeld = stderrors.New("lease no longer held")

const defaultRetryInterval = 25 * time.Millisecond

// Lease is a granted lock.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Coordinator grants and releases leases.
type Coordinator interface {
	// TryAcquire waits up to wait for key to become free and then holds it
	// for at most lease. It returns a CONFLICT/LOCK_TIMEOUT AppError when the
	// wait elapses.
	TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error)
	// Release frees the lease if it is still held by its token.
	Release(ctx context.Context, lease *Lease) error
}

// DocumentKey is the lease key serialising decisions on one document.
func DocumentKey(documentID string) string {
	return "approval:lock:" + documentID
}

func newToken() string {
	return uuid.NewString()
}

func timeoutError(key string, wait time.Duration) error {
	return errors.Conflict(errors.ReasonLockTimeout,
		fmt.Sprintf("could not acquire %s within %s, try again", key, wait))
}

// abandonedError reports a wait cut short by the caller. It keeps ctx's error
// in the chain so errors.Is(err, context.Canceled) still holds.
func abandonedError(ctx context.Context, key string) error {
	return &errors.AppError{
		Code:    errors.ErrCodeConflict,
		Reason:  errors.ReasonLockTimeout,
		Message: fmt.Sprintf("gave up waiting for %s, try again", key),
		Err:     ctx.Err(),
	}
}

// acquireLoop calls attempt until it succeeds, errors, the wait window closes
// or ctx is done.
func acquireLoop(ctx context.Context, key string, wait, retry time.Duration, attempt func() (bool, error)) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := attempt()
		if err != nil {
			if ctx.Err() != nil {
				return abandonedError(ctx, key)
			}
			return err
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutError(key, wait)
		}
		pause := retry
		if remaining < pause {
			pause = remaining
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return abandonedError(ctx, key)
		case <-timer.C:
		}
	}
}
