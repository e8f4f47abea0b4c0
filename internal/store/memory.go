// In-memory Store implementation used by tests and local development.
package store

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory is a mutex-guarded map implementing Store. Expiry is checked on
// read, so expired entries linger until touched; that is fine for its test
// and development role.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// FailAll makes every operation return ErrUnavailable. Tests use it to
	// simulate a store outage.
	FailAll bool

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source, letting tests step past TTLs.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) get(key string) (string, bool) {
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

// Get returns the live value at key or ErrNotFound.
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return "", ErrUnavailable
	}
	v, ok := m.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetEx writes with an expiry relative to the store clock.
func (m *Memory) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return ErrUnavailable
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Set writes with no expiry.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return ErrUnavailable
	}
	m.entries[key] = memoryEntry{value: value}
	return nil
}

// Delete removes a key; missing keys are a no-op.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return ErrUnavailable
	}
	delete(m.entries, key)
	return nil
}

// Scan pages over the sorted live keyspace. The cursor is an index into the
// sorted key list, so pages are deterministic within one snapshot; like the
// real store, concurrent writes may or may not appear in the iteration.
func (m *Memory) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return nil, 0, ErrUnavailable
	}
	if count <= 0 {
		count = 10
	}

	all := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if _, live := m.get(k); !live {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			all = append(all, k)
		}
	}
	sort.Strings(all)

	start := int(cursor)
	if start >= len(all) {
		return nil, 0, nil
	}
	end := start + int(count)
	if end >= len(all) {
		return all[start:], 0, nil
	}
	return all[start:end], uint64(end), nil
}

// Batch queues writes and applies them together under one lock acquisition.
func (m *Memory) Batch() Batch {
	return &memoryBatch{store: m}
}

// Ping reports the simulated availability.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return ErrUnavailable
	}
	return nil
}

type batchWrite struct {
	key, value string
	ttl        time.Duration
}

type memoryBatch struct {
	store  *Memory
	writes []batchWrite
}

func (b *memoryBatch) SetEx(key, value string, ttl time.Duration) {
	b.writes = append(b.writes, batchWrite{key: key, value: value, ttl: ttl})
}

func (b *memoryBatch) Exec(ctx context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.store.FailAll {
		return ErrUnavailable
	}
	for _, w := range b.writes {
		b.store.entries[w.key] = memoryEntry{value: w.value, expiresAt: b.store.now().Add(w.ttl)}
	}
	b.writes = nil
	return nil
}
