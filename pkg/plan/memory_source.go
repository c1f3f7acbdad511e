package plan

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// inMemSource implements the Source interface using an in-memory plan map.
type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns an in-memory Source with a deep copy of the given
// plans. Useful for plans defined in application code or tests.
func NewInMemSource(plans map[string]Plan) Source {
	return &inMemSource{plans: clonePlans(plans)}
}

// Load returns a copy of all available plans from memory.
func (s *inMemSource) Load(ctx context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlans(s.plans), nil
}

func clonePlans(plans map[string]Plan) map[string]Plan {
	out := make(map[string]Plan, len(plans))
	for id, p := range plans {
		p.Limits = maps.Clone(p.Limits)
		p.Features = slices.Clone(p.Features)
		out[id] = p
	}
	return out
}
