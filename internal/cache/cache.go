// Package cache holds short-lived route discovery and compatibility results.
// Entries are an optimization only: a miss or an expired entry means recompute.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is implemented by the in-process TTL cache and the shared Redis cache.
type Store interface {
	// Get decodes the entry for key into dest. It reports false on a miss or an expired entry.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time view of the live entries.
type Stats struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is a bounded TTL cache owned by one engine instance. Values are
// stored encoded so callers never share mutable state through it.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates a cache whose entries live for ttl. maxSize <= 0 means unbounded.
func NewMemory(ttl time.Duration, maxSize int) *Memory {
	return &Memory{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	if m.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictLocked()
	}
	m.entries[key] = entry{data: data, expiresAt: m.now().Add(m.ttl)}
	return nil
}

// evictLocked drops expired entries, or the entry closest to expiry if none are.
func (m *Memory) evictLocked() {
	now := m.now()
	oldestKey := ""
	var oldest time.Time
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(m.entries) >= m.maxSize && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return Stats{Count: len(keys), Keys: keys}, nil
}
