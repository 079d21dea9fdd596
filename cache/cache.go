// Package cache stores prepared command streams so that reprinting the same
// label skips rendering.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a prepared stream stays valid.
const DefaultTTL = 120 * time.Second

// Cache stores prepared command streams by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Flush removes every entry.
	Flush(ctx context.Context) error
}

// Key derives a deterministic key from the JSON encoding of v.
func Key(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

const (
	defaultMaxEntries = 100
	evictBatch        = 20
)

type entry struct {
	value   []byte
	added   time.Time
	expires time.Time
}

// Memory is a bounded in-process cache. When full, expired entries are
// dropped first and then the oldest entries in one batch.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.maxEntries {
		m.evict(now)
	}
	m.entries[key] = entry{value: value, added: now, expires: now.Add(ttl)}
	return nil
}

func (m *Memory) evict(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if len(m.entries) < m.maxEntries {
		return
	}

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.entries[keys[i]].added.Before(m.entries[keys[j]].added)
	})
	for _, k := range keys[:min(evictBatch, len(keys))] {
		delete(m.entries, k)
	}
}

func (m *Memory) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
