package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PgExecutor is the slice of pgxpool.Pool the store needs. Kept minimal so
// tests can substitute a mock pool.
type PgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore backs the registry with a relational table whose unique key
// constraint provides the atomic insert-if-absent. Rows outlive crashed
// holders, so acquisition reclaims stale rows and the sweeper clears the rest.
type PostgresStore struct {
	db PgExecutor
}

func NewPostgresStore(db PgExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	now := time.Now()
	expiresAt := now.Add(ttl)

	inserted, err := s.tryInsert(ctx, key, holder, expiresAt)
	if err != nil {
		return err
	}
	if inserted {
		return nil
	}

	// A row exists. If it is stale, reclaim it and retry the insert once.
	tag, err := s.db.Exec(ctx, `
		DELETE FROM resource_locks
		WHERE lock_key = $1 AND expires_at <= $2
	`, key, now)
	if err != nil {
		return fmt.Errorf("reclaim stale lock %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAcquired
	}

	inserted, err = s.tryInsert(ctx, key, holder, expiresAt)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrNotAcquired
	}
	return nil
}

func (s *PostgresStore) tryInsert(ctx context.Context, key, holder string, expiresAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO resource_locks (lock_key, holder, expires_at, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (lock_key) DO NOTHING
	`, key, holder, expiresAt)
	if err != nil {
		return false, fmt.Errorf("insert lock %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, key, holder string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM resource_locks
		WHERE lock_key = $1 AND holder = $2
	`, key, holder)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotHeld
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM resource_locks
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
