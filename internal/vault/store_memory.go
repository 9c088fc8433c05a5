package vault

import (
	"context"
	"sync"
	"time"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemoryEntryStore keeps vault entries in process memory.
type InMemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewInMemoryEntryStore() *InMemoryEntryStore {
	return &InMemoryEntryStore{entries: make(map[string]Entry)}
}

func (s *InMemoryEntryStore) Save(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Token]; exists {
		return sentinel.ErrConflict
	}
	s.entries[entry.Token] = entry
	return nil
}

func (s *InMemoryEntryStore) Get(_ context.Context, token string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[token]
	if !ok {
		return Entry{}, sentinel.ErrNotFound
	}
	return entry, nil
}

func (s *InMemoryEntryStore) Scrub(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok {
		return sentinel.ErrNotFound
	}
	entry.Nonce = nil
	entry.Ciphertext = nil
	entry.Tag = nil
	entry.DeletedAt = &at
	s.entries[token] = entry
	return nil
}

func (s *InMemoryEntryStore) TokensByKey(_ context.Context, keyID id.KeyID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tokens []string
	for token, entry := range s.entries {
		if entry.KeyID == keyID && entry.DeletedAt == nil {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func (s *InMemoryEntryStore) Replace(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[entry.Token]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.DeletedAt != nil {
		return sentinel.ErrInvalidState
	}
	s.entries[entry.Token] = entry
	return nil
}
