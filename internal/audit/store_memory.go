package audit

import (
	"context"
	"sync"

	id "custos/pkg/domain"
)

// InMemoryStore keeps per-tenant chains in process memory. Used in tests and
// when no database is configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[id.TenantID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{chains: make(map[id.TenantID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[event.TenantID] = append(s.chains[event.TenantID], event)
	return nil
}

func (s *InMemoryStore) Tip(_ context.Context, tenantID id.TenantID) (string, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[tenantID]
	if len(chain) == 0 {
		return GenesisHash, 0, nil
	}
	last := chain[len(chain)-1]
	return last.ThisHash, last.Seq, nil
}

func (s *InMemoryStore) Range(_ context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.chains[tenantID] {
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Query(_ context.Context, tenantID id.TenantID, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.chains[tenantID] {
		if !matches(e, filter) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Tamper mutates a stored event in place. Test hook: it exists so chain
// verification tests can corrupt committed entries the way a hostile DBA
// would.
func (s *InMemoryStore) Tamper(tenantID id.TenantID, seq uint64, mutate func(*Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[tenantID]
	for i := range chain {
		if chain[i].Seq == seq {
			mutate(&chain[i])
			return true
		}
	}
	return false
}

func matches(e Event, f Filter) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.Resource.Type != f.ResourceType {
		return false
	}
	if f.AllowedOnly && !e.Allowed {
		return false
	}
	if f.DeniedOnly && e.Allowed {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}
