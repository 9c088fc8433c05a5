package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	id "custos/pkg/domain"
)

// EmptyToken is the sentinel returned for empty plaintexts. It allocates no
// vault row and detokenizes to the empty string without a lookup.
const EmptyToken = "tok_empty"

const tokenPrefix = "tok_"

// newToken returns an opaque token with 128 bits of entropy. The token
// carries no recoverable information about the plaintext.
func newToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(raw), nil
}

// Entry is one vaulted sensitive value. A token never resolves across
// tenants regardless of key material.
type Entry struct {
	Token    string
	TenantID id.TenantID
	DataType string

	// Originating resource, kept so detokenization can run the Reveal
	// policy check against the record the value came from.
	ResourceType string
	ResourceID   id.ResourceID
	SubjectID    id.SubjectID

	KeyID      id.KeyID
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte

	CreatedAt time.Time
	DeletedAt *time.Time
}

// EntryStore persists vault entries keyed by token.
type EntryStore interface {
	Save(ctx context.Context, entry Entry) error
	Get(ctx context.Context, token string) (Entry, error)

	// Scrub sets DeletedAt and destroys the recoverable content (nonce,
	// ciphertext, tag) while keeping the row for referential audit history.
	Scrub(ctx context.Context, token string, at time.Time) error

	// TokensByKey lists live tokens still pinned to a key version; the
	// rotation migration re-encrypts them.
	TokensByKey(ctx context.Context, keyID id.KeyID) ([]string, error)

	// Replace swaps an entry's key pinning and ciphertext in place. Used
	// only by the rotation migration.
	Replace(ctx context.Context, entry Entry) error
}
