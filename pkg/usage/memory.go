package usage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory CounterStore for tests and single-process use.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[Key]int64
	latest   map[string]string // tenant+plugin -> period key
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[Key]int64),
		latest:   make(map[string]string),
	}
}

func latestMapKey(tenantID uuid.UUID, pluginID string) string {
	return tenantID.String() + ":" + pluginID
}

func (s *MemoryStore) Increment(ctx context.Context, key Key, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.counters[key]; !exists {
		s.latest[latestMapKey(key.TenantID, key.PluginID)] = key.Period
	}
	s.counters[key] += amount
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

func (s *MemoryStore) Seed(ctx context.Context, keys []Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if _, exists := s.counters[key]; exists {
			continue // skip on conflict, matching the SQL unique constraint
		}
		s.counters[key] = 0
		s.latest[latestMapKey(key.TenantID, key.PluginID)] = key.Period
	}
	return nil
}

func (s *MemoryStore) LatestPeriod(ctx context.Context, tenantID uuid.UUID, pluginID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[latestMapKey(tenantID, pluginID)], nil
}
