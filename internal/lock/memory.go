package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the lock registry in a process-local map. Suitable for
// single-node deployments and tests; the exclusivity contract is identical to
// the shared-table stores.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		clock:   time.Now,
	}
}

// WithClock overrides the time source, used by tests to drive TTL expiry.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if rec, ok := s.records[key]; ok {
		if rec.ExpiresAt.After(now) {
			return ErrNotAcquired
		}
		// Stale record, reclaim in place.
		delete(s.records, key)
	}

	s.records[key] = Record{
		Key:       key,
		Holder:    holder,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Holder != holder {
		return ErrNotHeld
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}
