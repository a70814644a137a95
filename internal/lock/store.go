package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAcquired is returned when a live lock is already held by someone else.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned on release when the caller does not hold the lock.
	ErrNotHeld = errors.New("lock not held by this holder")
)

// Record is one row in the lock registry. A record whose expiry has passed is
// considered absent and may be reclaimed by any party.
type Record struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

// Store is the atomic insert-if-absent primitive behind the manager. All
// implementations must guarantee that at most one live record exists per key.
//
// Acquire inserts a record for key unless a live one already exists, returning
// ErrNotAcquired in that case. Implementations reclaim a stale (expired)
// record themselves: delete it and retry the insert once.
//
// Release deletes the record only if holder matches, returning ErrNotHeld
// otherwise. DeleteExpired is the background sweeper's safety net and reports
// how many stale records it removed.
type Store interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) error
	Release(ctx context.Context, key, holder string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
