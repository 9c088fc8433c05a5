package enrollment

import (
	"context"
	"sync"

	id "custos/pkg/domain"
)

type linkKey struct {
	tenant  id.TenantID
	staff   id.UserID
	subject id.SubjectID
}

// InMemoryStore is the development and test roster store.
type InMemoryStore struct {
	mu    sync.RWMutex
	links map[linkKey][]Link
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{links: make(map[linkKey][]Link)}
}

func (s *InMemoryStore) Add(_ context.Context, link Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{link.TenantID, link.StaffID, link.SubjectID}
	s.links[key] = append(s.links[key], link)
	return nil
}

func (s *InMemoryStore) Remove(_ context.Context, tenantID id.TenantID, staffID id.UserID, subjectID id.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, linkKey{tenantID, staffID, subjectID})
	return nil
}

func (s *InMemoryStore) Linked(_ context.Context, tenantID id.TenantID, staffID id.UserID, subjectID id.SubjectID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links[linkKey{tenantID, staffID, subjectID}]) > 0, nil
}
