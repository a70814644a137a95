package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tune the manager's acquisition policy. Retries are performed by the
// manager with exponential backoff; the store itself never blocks beyond a
// single round-trip plus one stale-row reclaim.
type Options struct {
	DefaultTTL time.Duration
	Retries    int
	Backoff    time.Duration
}

func (o *Options) withDefaults() {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 15 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
}

// Manager owns one lock registry and serializes critical sections per
// resource key. It is safe for concurrent use.
type Manager struct {
	store  Store
	opts   Options
	logger zerolog.Logger
}

func NewManager(store Store, opts Options, logger zerolog.Logger) *Manager {
	opts.withDefaults()
	return &Manager{
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Acquire attempts to take the lock for key on behalf of holder, retrying a
// bounded number of times with doubling backoff. It returns ErrNotAcquired
// once the retry budget is exhausted; it never waits out a full TTL.
func (m *Manager) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}

	backoff := m.opts.Backoff
	for attempt := 0; ; attempt++ {
		err := m.store.Acquire(ctx, key, holder, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		if attempt >= m.opts.Retries {
			return ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (m *Manager) Release(ctx context.Context, key, holder string) error {
	return m.store.Release(ctx, key, holder)
}

// WithLock acquires key, runs fn, and always releases before returning. fn
// gets a context whose deadline matches the lock TTL: if the section overruns
// its TTL the context expires locally, since the registry may already have
// handed the key to someone else.
func (m *Manager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}
	holder := uuid.NewString()

	if err := m.Acquire(ctx, key, holder, ttl); err != nil {
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := m.store.Release(releaseCtx, key, holder); err != nil && !errors.Is(err, ErrNotHeld) {
			m.logger.Warn().Err(err).Str("key", key).Msg("lock release failed")
		}
	}()

	sectionCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(sectionCtx)
}

// WithMultipleLocks acquires every key in keys, runs fn, and releases all of
// them. Keys are deduplicated and sorted before acquisition so that all
// callers take overlapping sets in the same global order, which rules out
// circular waits. If any acquisition fails the already-held keys are released
// and the whole call fails.
func (m *Manager) WithMultipleLocks(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return errors.New("no resource keys given")
	}
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}

	sorted := dedupeSorted(keys)
	holder := uuid.NewString()

	held := make([]string, 0, len(sorted))
	releaseAll := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := m.store.Release(releaseCtx, held[i], holder); err != nil && !errors.Is(err, ErrNotHeld) {
				m.logger.Warn().Err(err).Str("key", held[i]).Msg("multi-lock release failed")
			}
		}
	}

	for _, key := range sorted {
		if err := m.Acquire(ctx, key, holder, ttl); err != nil {
			releaseAll()
			return fmt.Errorf("acquire %q in lock set: %w", key, err)
		}
		held = append(held, key)
	}

	defer releaseAll()

	sectionCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(sectionCtx)
}

// Sweep removes expired registry rows. Opportunistic reclamation inside
// Acquire already handles contended keys; this is the safety net for keys
// nobody asks for again.
func (m *Manager) Sweep(ctx context.Context) error {
	n, err := m.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sweep expired locks: %w", err)
	}
	if n > 0 {
		m.logger.Info().Int64("reclaimed", n).Msg("swept expired locks")
	}
	return nil
}

func dedupeSorted(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)

	dst := out[:0]
	var prev string
	for i, k := range out {
		if i == 0 || k != prev {
			dst = append(dst, k)
		}
		prev = k
	}
	return dst
}
