package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("store: key not found")

// Store is the TTL-governed key-value contract used for all short-lived
// coordination state: pending intents, confirm tokens, idempotency records
// and refresh sessions.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// MemoryStore keeps entries in-process with the same TTL semantics as the
// redis implementation. Expired entries are swept lazily on every access;
// there is no background goroutine, and no stale value is ever returned.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memEntry
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memEntry{}}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	entry, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.items[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if _, ok := m.items[key]; ok {
		return false, nil
	}
	m.items[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (m *MemoryStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) sweepLocked() {
	now := time.Now()
	for k, v := range m.items {
		if now.After(v.expiresAt) {
			delete(m.items, k)
		}
	}
}
