package retention

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

type policyKey struct {
	tenant    id.TenantID
	dataClass string
}

// InMemoryPolicyStore is the development and test policy store.
type InMemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[policyKey]Policy
}

func NewInMemoryPolicyStore() *InMemoryPolicyStore {
	return &InMemoryPolicyStore{policies: make(map[policyKey]Policy)}
}

func (s *InMemoryPolicyStore) Upsert(_ context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policyKey{p.TenantID, p.DataClass}] = p
	return nil
}

func (s *InMemoryPolicyStore) ByTenant(_ context.Context, tenantID id.TenantID) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Policy
	for key, p := range s.policies {
		if key.tenant == tenantID {
			out = append(out, p)
		}
	}
	sortPolicies(out)
	return out, nil
}

func (s *InMemoryPolicyStore) All(_ context.Context) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sortPolicies(out)
	return out, nil
}

func sortPolicies(policies []Policy) {
	sort.Slice(policies, func(i, j int) bool {
		if policies[i].TenantID != policies[j].TenantID {
			return policies[i].TenantID.String() < policies[j].TenantID.String()
		}
		return policies[i].DataClass < policies[j].DataClass
	})
}

// InMemoryRecordStore is the development and test lifecycle ledger.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records map[id.ResourceID]DataRecord
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{records: make(map[id.ResourceID]DataRecord)}
}

func (s *InMemoryRecordStore) Register(_ context.Context, rec DataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	if rec.State == "" {
		rec.State = StateActive
	}
	if rec.StateChangedAt.IsZero() {
		rec.StateChangedAt = rec.CreatedAt
	}
	rec.Tokens = slices.Clone(rec.Tokens)
	s.records[rec.ID] = rec
	return nil
}

func (s *InMemoryRecordStore) Get(_ context.Context, recordID id.ResourceID) (DataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return DataRecord{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryRecordStore) Due(_ context.Context, p Policy, asOf time.Time, limit int) ([]DataRecord, error) {
	target, ok := p.ActionOnExpiry.TargetState()
	if !ok {
		return nil, sentinel.ErrInvalidState
	}
	cutoff := asOf.Add(-p.RetentionPeriod)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DataRecord
	for _, rec := range s.records {
		if rec.TenantID != p.TenantID || rec.DataClass != p.DataClass {
			continue
		}
		if !CanTransition(rec.State, target) {
			continue
		}
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryRecordStore) BySubject(_ context.Context, tenantID id.TenantID, subjectID id.SubjectID, dataClasses []string) ([]DataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DataRecord
	for _, rec := range s.records {
		if rec.TenantID != tenantID || rec.SubjectID != subjectID {
			continue
		}
		if len(dataClasses) > 0 && !slices.Contains(dataClasses, rec.DataClass) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryRecordStore) Transition(_ context.Context, recordID id.ResourceID, from, to State, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.State != from {
		return sentinel.ErrInvalidState
	}
	rec.State = to
	rec.StateChangedAt = at
	s.records[recordID] = rec
	return nil
}
