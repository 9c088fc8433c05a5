package vault

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemoryKeyStore derives per-tenant key versions from a master secret with
// HKDF. Deterministic derivation means a process restart reconstructs the
// same material for the same (tenant, version); only statuses are held in
// memory, so it is suitable for tests and single-node deployments.
type InMemoryKeyStore struct {
	master []byte

	mu   sync.RWMutex
	keys map[id.TenantID][]EncryptionKey
	byID map[id.KeyID]keyRef
}

type keyRef struct {
	tenant  id.TenantID
	version int
}

// NewInMemoryKeyStore requires a master secret of at least 32 bytes.
func NewInMemoryKeyStore(master []byte) (*InMemoryKeyStore, error) {
	if len(master) < 32 {
		return nil, fmt.Errorf("master secret must be at least 32 bytes, got %d", len(master))
	}
	return &InMemoryKeyStore{
		master: master,
		keys:   make(map[id.TenantID][]EncryptionKey),
		byID:   make(map[id.KeyID]keyRef),
	}, nil
}

// derive produces 32 bytes of key material bound to the tenant and version.
func (s *InMemoryKeyStore) derive(tenantID id.TenantID, version int) ([]byte, error) {
	info := fmt.Sprintf("custos/vault/%s/v%d", tenantID.String(), version)
	reader := hkdf.New(sha256.New, s.master, nil, []byte(info))
	material := make([]byte, 32)
	if _, err := io.ReadFull(reader, material); err != nil {
		return nil, fmt.Errorf("derive key material: %w", err)
	}
	return material, nil
}

func (s *InMemoryKeyStore) ActiveKey(_ context.Context, tenantID id.TenantID) (EncryptionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.keys[tenantID]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status == KeyActive {
			return versions[i], nil
		}
	}

	// First use for this tenant: provision version 1.
	return s.provision(tenantID, len(versions)+1)
}

// provision appends the next version as active. Caller holds the lock.
func (s *InMemoryKeyStore) provision(tenantID id.TenantID, version int) (EncryptionKey, error) {
	material, err := s.derive(tenantID, version)
	if err != nil {
		return EncryptionKey{}, err
	}
	key := EncryptionKey{
		ID:        id.NewKeyID(),
		TenantID:  tenantID,
		Version:   version,
		Algorithm: AlgorithmAESGCM,
		Material:  material,
		Status:    KeyActive,
		CreatedAt: time.Now(),
	}
	s.keys[tenantID] = append(s.keys[tenantID], key)
	s.byID[key.ID] = keyRef{tenant: tenantID, version: version}
	return key, nil
}

func (s *InMemoryKeyStore) KeyByID(_ context.Context, keyID id.KeyID) (EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.byID[keyID]
	if !ok {
		return EncryptionKey{}, sentinel.ErrNotFound
	}
	return s.keys[ref.tenant][ref.version-1], nil
}

func (s *InMemoryKeyStore) Rotate(_ context.Context, tenantID id.TenantID, grace time.Duration) (EncryptionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.keys[tenantID]
	for i := range versions {
		if versions[i].Status == KeyActive {
			versions[i].Status = KeyRetiring
			versions[i].ExpiresAt = time.Now().Add(grace)
		}
	}
	return s.provision(tenantID, len(versions)+1)
}

func (s *InMemoryKeyStore) Retiring(_ context.Context) ([]EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var retiring []EncryptionKey
	for _, versions := range s.keys {
		for _, key := range versions {
			if key.Status == KeyRetiring {
				retiring = append(retiring, key)
			}
		}
	}
	return retiring, nil
}

func (s *InMemoryKeyStore) ExpireRetired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for tenant, versions := range s.keys {
		for i := range versions {
			if versions[i].Status == KeyRetiring && !versions[i].ExpiresAt.After(now) {
				versions[i].Status = KeyExpired
				expired++
			}
		}
		s.keys[tenant] = versions
	}
	return expired, nil
}

// MarkExpired forces a key to Expired immediately. Test hook for the
// distinct-error invariant on expired-key detokenization.
func (s *InMemoryKeyStore) MarkExpired(keyID id.KeyID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byID[keyID]
	if !ok {
		return false
	}
	s.keys[ref.tenant][ref.version-1].Status = KeyExpired
	return true
}
