package quotastore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests that exercise
// PolicyEngine, ProxyPipeline, and UsagePipeline without a live Redis.
type MemoryStore struct {
	mu    sync.Mutex
	ints  map[string]int64
	lists map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ints:  make(map[string]int64),
		lists: make(map[string][][]byte),
	}
}

func (m *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] += delta
	return m.ints[key], nil
}

func (m *MemoryStore) MGet(ctx context.Context, keys ...string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = m.ints[k]
	}
	return out, nil
}

func (m *MemoryStore) LPush(ctx context.Context, list string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[list] = append([][]byte{payload}, m.lists[list]...)
	return nil
}

func (m *MemoryStore) RPopN(ctx context.Context, list string, n int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[list]
	if n > len(items) {
		n = len(items)
	}
	tail := items[len(items)-n:]
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = tail[n-1-i]
	}
	m.lists[list] = items[:len(items)-n]
	return out, nil
}

func (m *MemoryStore) LLen(ctx context.Context, list string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[list])), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                   { return nil }
