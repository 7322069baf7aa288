package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It suits single-instance deployments
// and tests; counters are not shared between processes.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]*memCounter
	ops      uint64
}

type memCounter struct {
	n         int64
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore returns an empty MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, counters: make(map[string]*memCounter)}
}

// Incr implements Store.
func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Sweep expired counters every 1024 operations to bound memory.
	m.ops++
	if m.ops%1024 == 0 {
		for k, c := range m.counters {
			if c.expired(now) {
				delete(m.counters, k)
			}
		}
	}

	c, ok := m.counters[key]
	if !ok || c.expired(now) {
		c = &memCounter{}
		m.counters[key] = c
	}
	c.n++
	return c.n, nil
}

// Expire implements Store. Expiring a missing key is a no-op.
func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[key]; ok {
		c.expiresAt = m.now().Add(ttl)
	}
	return nil
}

// Len reports the number of live counters.
func (m *MemoryStore) Len() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.counters {
		if !c.expired(now) {
			n++
		}
	}
	return n
}

func (c *memCounter) expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && !now.Before(c.expiresAt)
}
