package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRunNotFound = errors.New("run not found")

const runKeyPrefix = "mlife:run:"

// RunStore keeps serialized run results for later retrieval by id.
type RunStore interface {
	Save(ctx context.Context, id string, payload []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
}

// RunCache is a RunStore backed by redis. Entries expire after the TTL.
type RunCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRunCache(client redis.Cmdable, ttl time.Duration) *RunCache {
	return &RunCache{client: client, ttl: ttl}
}

func RunKey(id string) string {
	return runKeyPrefix + id
}

func (c *RunCache) Save(ctx context.Context, id string, payload []byte) error {
	if err := c.client.Set(ctx, RunKey(id), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache run %s: %w", id, err)
	}
	return nil
}

func (c *RunCache) Load(ctx context.Context, id string) ([]byte, error) {
	data, err := c.client.Get(ctx, RunKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return data, nil
}

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryRunStore is the in-process RunStore used when redis is disabled.
type MemoryRunStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryRunStore(ttl time.Duration) *MemoryRunStore {
	return &MemoryRunStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryRunStore) Save(_ context.Context, id string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.entries, k)
		}
	}

	entry := memoryEntry{payload: append([]byte(nil), payload...)}
	if m.ttl > 0 {
		entry.expires = now.Add(m.ttl)
	}
	m.entries[id] = entry
	return nil
}

func (m *MemoryRunStore) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return append([]byte(nil), e.payload...), nil
}
