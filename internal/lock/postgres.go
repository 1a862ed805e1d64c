package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
)

// PostgresCoordinator keeps leases in the approval_lock_leases table. A row
// is taken over only once its expires_at has passed.
type PostgresCoordinator struct {
	db    *database.DB
	retry time.Duration
}

// NewPostgresCoordinator uses db for lease rows.
func NewPostgresCoordinator(db *database.DB) *PostgresCoordinator {
	return &PostgresCoordinator{db: db, retry: 50 * time.Millisecond}
}

func (c *PostgresCoordinator) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error) {
	query := `
		INSERT INTO approval_lock_leases (lock_key, token, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (lock_key) DO UPDATE
		SET token      = EXCLUDED.token,
		    expires_at = EXCLUDED.expires_at
		WHERE approval_lock_leases.expires_at < NOW()
		RETURNING expires_at
	`

	token := newToken()
	var expiresAt time.Time
	err := acquireLoop(ctx, key, wait, c.retry, func() (bool, error) {
		err := c.db.QueryRow(ctx, query, key, token, lease.Seconds()).Scan(&expiresAt)
		if err == pgx.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &Lease{Key: key, Token: token, ExpiresAt: expiresAt}, nil
}

func (c *PostgresCoordinator) Release(ctx context.Context, lease *Lease) error {
	tag, err := c.db.Exec(ctx,
		`DELETE FROM approval_lock_leases WHERE lock_key = $1 AND token = $2`,
		lease.Key, lease.Token)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", lease.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotHeld
	}
	return nil
}
