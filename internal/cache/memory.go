package cache

import (
	"bytes"
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero never expires
}

// MemoryStore is a bounded in-process Store. Entries past their TTL read as
// misses and are never promoted, so the LRU evicts them first when full.
type MemoryStore struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryStore creates a store holding at most size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("error creating lru: %w", err)
	}

	return &MemoryStore{
		entries: entries,
		now:     time.Now,
	}, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.entries.Peek(key)
	if !ok {
		return nil, false, nil
	}
	// Not removed here: a Set for key may land between the Peek and a Remove.
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}

	// Mark as recently used
	m.entries.Get(key)

	return bytes.Clone(e.value), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: bytes.Clone(value)}
	if e.value == nil {
		e.value = []byte{}
	}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.entries.Add(key, e)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}
