package vault

import (
	"context"
	"time"

	id "custos/pkg/domain"
)

// KeyStatus is the lifecycle state of one key version.
type KeyStatus string

const (
	// KeyActive keys encrypt new writes and decrypt.
	KeyActive KeyStatus = "active"

	// KeyRetiring keys decrypt existing entries but refuse new encryptions.
	// Rotation moves the previous active key here for a grace period.
	KeyRetiring KeyStatus = "retiring"

	// KeyExpired keys refuse everything. Entries still pinned to an expired
	// key fail detokenization with a distinct error.
	KeyExpired KeyStatus = "expired"
)

// EncryptionKey is one key version for one tenant. Material never appears in
// logs or audit entries; only the KeyStore sees it.
type EncryptionKey struct {
	ID        id.KeyID
	TenantID  id.TenantID
	Version   int
	Algorithm string
	Material  []byte
	Status    KeyStatus
	CreatedAt time.Time

	// ExpiresAt is set when the key enters Retiring; after it passes, the
	// key becomes Expired. Zero for active keys.
	ExpiresAt time.Time
}

// AlgorithmAESGCM is the only algorithm the vault currently writes.
const AlgorithmAESGCM = "AES-256-GCM"

// KeyStore abstracts key management so the concrete backend (in-memory
// derivation, database, HSM, cloud KMS) is swappable without touching vault,
// policy, or audit logic.
//
// Implementations provision a tenant's first key version lazily on the first
// ActiveKey call. Rotate must be copy-on-write: in-flight operations keep the
// key version they loaded.
type KeyStore interface {
	ActiveKey(ctx context.Context, tenantID id.TenantID) (EncryptionKey, error)
	KeyByID(ctx context.Context, keyID id.KeyID) (EncryptionKey, error)

	// Rotate creates the next active version and moves the current one to
	// Retiring with the given grace period.
	Rotate(ctx context.Context, tenantID id.TenantID, grace time.Duration) (EncryptionKey, error)

	// Retiring lists keys currently in the Retiring state, across tenants.
	// Key maintenance migrates their entries before the grace period ends.
	Retiring(ctx context.Context) ([]EncryptionKey, error)

	// ExpireRetired flips Retiring keys whose grace period has passed to
	// Expired. Returns how many keys changed state.
	ExpireRetired(ctx context.Context, now time.Time) (int, error)
}
