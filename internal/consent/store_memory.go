package consent

import (
	"context"
	"sync"
	"time"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

type memoryKey struct {
	tenant  id.TenantID
	subject id.SubjectID
}

// InMemoryStore keeps consent records in process memory. Used in tests and
// when no database is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[memoryKey][]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey{record.TenantID, record.SubjectID}
	s.records[key] = append(s.records[key], record)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, tenantID id.TenantID, subjectID id.SubjectID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record{}, s.records[memoryKey{tenantID, subjectID}]...), nil
}

func (s *InMemoryStore) Revoke(_ context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey{tenantID, subjectID}
	records := s.records[key]
	found := false
	for i := range records {
		if records[i].Type == typ && records[i].Status == StatusGranted {
			at := revokedAt
			records[i].Status = StatusRevoked
			records[i].RevokedAt = &at
			found = true
		}
	}
	if !found {
		return sentinel.ErrNotFound
	}
	s.records[key] = records
	return nil
}

func (s *InMemoryStore) MarkExpired(_ context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey{tenantID, subjectID}
	records := s.records[key]
	for i := range records {
		if records[i].Type == typ && records[i].Status == StatusGranted {
			records[i].Status = StatusExpired
		}
	}
	s.records[key] = records
	return nil
}
