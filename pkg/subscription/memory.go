package subscription

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process use. It
// keeps the full audit trail so tests can assert on changes and events.
type MemoryStore struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]*Subscription
	changes []Change
	events  []Event
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func cloneSub(s *Subscription) *Subscription {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSub(sub), nil
}

func (s *MemoryStore) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Subscription
	for _, sub := range s.subs {
		if sub.ProviderSubID != providerSubID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneSub(latest), nil
}

func (s *MemoryStore) FindCurrent(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.findLocked(tenantID, pluginID, true)
	if sub == nil {
		return nil, ErrNotFound
	}
	return cloneSub(sub), nil
}

func (s *MemoryStore) FindLatest(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.findLocked(tenantID, pluginID, false)
	if sub == nil {
		return nil, ErrNotFound
	}
	return cloneSub(sub), nil
}

func (s *MemoryStore) findLocked(tenantID uuid.UUID, pluginID string, currentOnly bool) *Subscription {
	var latest *Subscription
	for _, sub := range s.subs {
		if sub.TenantID != tenantID || sub.PluginID != pluginID {
			continue
		}
		if currentOnly && !sub.IsCurrent() {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	return latest
}

func (s *MemoryStore) Create(ctx context.Context, sub *Subscription, audit Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.IsCurrent() && s.findLocked(sub.TenantID, sub.PluginID, true) != nil {
		return ErrAlreadyExists
	}
	s.subs[sub.ID] = cloneSub(sub)
	s.appendAuditLocked(audit)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, sub *Subscription, audit Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	s.subs[sub.ID] = cloneSub(sub)
	s.appendAuditLocked(audit)
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, old, new *Subscription, audits ...Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[old.ID]; !ok {
		return ErrNotFound
	}
	s.subs[old.ID] = cloneSub(old)
	s.subs[new.ID] = cloneSub(new)
	for _, audit := range audits {
		s.appendAuditLocked(audit)
	}
	return nil
}

func (s *MemoryStore) DeletePendingChange(ctx context.Context, subscriptionID uuid.UUID, kind ChangeKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i, c := range s.changes {
		if c.SubscriptionID == subscriptionID && c.Kind == kind && c.EffectiveAt.After(now) {
			s.changes = append(s.changes[:i], s.changes[i+1:]...)
			return nil
		}
	}
	return ErrNoPendingChange
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) appendAuditLocked(audit Audit) {
	if audit.Change != nil {
		s.changes = append(s.changes, *audit.Change)
	}
	if audit.Event != nil {
		s.events = append(s.events, *audit.Event)
	}
}

// Changes returns a copy of the recorded change rows, oldest first.
func (s *MemoryStore) Changes() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Change, len(s.changes))
	copy(out, s.changes)
	return out
}

// Events returns a copy of the recorded event rows, oldest first.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
