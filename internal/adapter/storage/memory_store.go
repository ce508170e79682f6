package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a process-local BlobStore and idempotency store. Nothing
// survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	claims  map[string]time.Time
	now     func() time.Time
	failSet error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:  make(map[string][]byte),
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.blobs[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(value), nil
}

func (m *MemoryStore) SetMany(ctx context.Context, entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSet != nil {
		return m.failSet
	}
	for key, value := range entries {
		m.blobs[key] = slices.Clone(value)
	}
	return nil
}

// FailWrites makes every later SetMany return err; nil restores writes.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = err
}

func (m *MemoryStore) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.claims[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.claims[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (m *MemoryStore) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.claims, key)
	return nil
}
