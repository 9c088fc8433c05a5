package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/hkdf"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// PostgresKeyStore persists key versions in the encryption_keys table,
// indexed by (key_id, version) with a unique (tenant_id, version). Material
// is generated randomly per version and stored wrapped under a process-level
// wrapping key derived from the configured master secret, so a database dump
// alone never yields usable key material.
type PostgresKeyStore struct {
	pool *pgxpool.Pool
	wrap []byte
}

// NewPostgresKeyStore derives the wrapping key from the master secret with
// HKDF and verifies it can build an AEAD.
func NewPostgresKeyStore(pool *pgxpool.Pool, master []byte) (*PostgresKeyStore, error) {
	if len(master) < 32 {
		return nil, fmt.Errorf("master secret must be at least 32 bytes, got %d", len(master))
	}
	wrap := make([]byte, 32)
	reader := hkdf.New(sha256.New, master, nil, []byte("custos/vault/key-wrapping"))
	if _, err := io.ReadFull(reader, wrap); err != nil {
		return nil, fmt.Errorf("derive wrapping key: %w", err)
	}
	if _, err := newAEAD(wrap); err != nil {
		return nil, err
	}
	return &PostgresKeyStore{pool: pool, wrap: wrap}, nil
}

func (s *PostgresKeyStore) wrapMaterial(keyID id.KeyID, material []byte) (nonce, wrapped, tag []byte, err error) {
	return encrypt(s.wrap, material, []byte(keyID.String()))
}

func (s *PostgresKeyStore) unwrapMaterial(keyID id.KeyID, nonce, wrapped, tag []byte) ([]byte, error) {
	return decrypt(s.wrap, nonce, wrapped, tag, []byte(keyID.String()))
}

const keyColumns = `key_id, tenant_id, version, algorithm, material, material_nonce, material_tag, status, created_at, expires_at`

type pgxRow interface {
	Scan(dest ...any) error
}

func (s *PostgresKeyStore) scanKey(row pgxRow) (EncryptionKey, error) {
	var (
		key     EncryptionKey
		keyID   uuid.UUID
		tenant  uuid.UUID
		status  string
		wrapped []byte
		nonce   []byte
		tag     []byte
		expires *time.Time
	)
	err := row.Scan(&keyID, &tenant, &key.Version, &key.Algorithm, &wrapped, &nonce, &tag, &status, &key.CreatedAt, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return EncryptionKey{}, sentinel.ErrNotFound
	}
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("scan encryption key: %w", err)
	}
	key.ID = id.KeyID(keyID)
	key.TenantID = id.TenantID(tenant)
	key.Status = KeyStatus(status)
	if expires != nil {
		key.ExpiresAt = *expires
	}
	material, err := s.unwrapMaterial(key.ID, nonce, wrapped, tag)
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("unwrap key material: %w", err)
	}
	key.Material = material
	return key, nil
}

func (s *PostgresKeyStore) ActiveKey(ctx context.Context, tenantID id.TenantID) (EncryptionKey, error) {
	query := `SELECT ` + keyColumns + `
		FROM encryption_keys
		WHERE tenant_id = $1 AND status = $2
		ORDER BY version DESC
		LIMIT 1`
	key, err := s.scanKey(s.pool.QueryRow(ctx, query, uuid.UUID(tenantID), string(KeyActive)))
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.provision(ctx, tenantID)
	}
	return key, err
}

// provision inserts the tenant's next key version as active. The unique
// (tenant_id, version) constraint resolves races between concurrent first
// uses: the loser re-reads the winner's key.
func (s *PostgresKeyStore) provision(ctx context.Context, tenantID id.TenantID) (EncryptionKey, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM encryption_keys WHERE tenant_id = $1`,
		uuid.UUID(tenantID),
	).Scan(&version)
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("next key version: %w", err)
	}

	key := EncryptionKey{
		ID:        id.NewKeyID(),
		TenantID:  tenantID,
		Version:   version,
		Algorithm: AlgorithmAESGCM,
		Material:  make([]byte, 32),
		Status:    KeyActive,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := rand.Read(key.Material); err != nil {
		return EncryptionKey{}, fmt.Errorf("generate key material: %w", err)
	}
	nonce, wrapped, tag, err := s.wrapMaterial(key.ID, key.Material)
	if err != nil {
		return EncryptionKey{}, err
	}

	insert := `
		INSERT INTO encryption_keys
			(key_id, tenant_id, version, algorithm, material, material_nonce, material_tag, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, version) DO NOTHING
	`
	res, err := s.pool.Exec(ctx, insert,
		uuid.UUID(key.ID), uuid.UUID(tenantID), version, key.Algorithm,
		wrapped, nonce, tag, string(KeyActive), key.CreatedAt)
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("insert encryption key: %w", err)
	}
	if res.RowsAffected() == 0 {
		return s.ActiveKey(ctx, tenantID)
	}
	return key, nil
}

func (s *PostgresKeyStore) KeyByID(ctx context.Context, keyID id.KeyID) (EncryptionKey, error) {
	query := `SELECT ` + keyColumns + ` FROM encryption_keys WHERE key_id = $1`
	return s.scanKey(s.pool.QueryRow(ctx, query, uuid.UUID(keyID)))
}

func (s *PostgresKeyStore) Rotate(ctx context.Context, tenantID id.TenantID, grace time.Duration) (EncryptionKey, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("begin key rotation: %w", err)
	}
	defer tx.Rollback(ctx)

	retire := `
		UPDATE encryption_keys
		SET status = $1, expires_at = $2
		WHERE tenant_id = $3 AND status = $4
	`
	if _, err := tx.Exec(ctx, retire,
		string(KeyRetiring), time.Now().UTC().Add(grace), uuid.UUID(tenantID), string(KeyActive)); err != nil {
		return EncryptionKey{}, fmt.Errorf("retire active key: %w", err)
	}

	var version int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM encryption_keys WHERE tenant_id = $1`,
		uuid.UUID(tenantID),
	).Scan(&version)
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("next key version: %w", err)
	}

	key := EncryptionKey{
		ID:        id.NewKeyID(),
		TenantID:  tenantID,
		Version:   version,
		Algorithm: AlgorithmAESGCM,
		Material:  make([]byte, 32),
		Status:    KeyActive,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := rand.Read(key.Material); err != nil {
		return EncryptionKey{}, fmt.Errorf("generate key material: %w", err)
	}
	nonce, wrapped, tag, err := s.wrapMaterial(key.ID, key.Material)
	if err != nil {
		return EncryptionKey{}, err
	}
	insert := `
		INSERT INTO encryption_keys
			(key_id, tenant_id, version, algorithm, material, material_nonce, material_tag, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.Exec(ctx, insert,
		uuid.UUID(key.ID), uuid.UUID(tenantID), version, key.Algorithm,
		wrapped, nonce, tag, string(KeyActive), key.CreatedAt); err != nil {
		return EncryptionKey{}, fmt.Errorf("insert rotated key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return EncryptionKey{}, fmt.Errorf("commit key rotation: %w", err)
	}
	return key, nil
}

func (s *PostgresKeyStore) Retiring(ctx context.Context) ([]EncryptionKey, error) {
	query := `SELECT ` + keyColumns + `
		FROM encryption_keys
		WHERE status = $1
		ORDER BY tenant_id, version`
	rows, err := s.pool.Query(ctx, query, string(KeyRetiring))
	if err != nil {
		return nil, fmt.Errorf("list retiring keys: %w", err)
	}
	defer rows.Close()

	var retiring []EncryptionKey
	for rows.Next() {
		key, err := s.scanKey(rows)
		if err != nil {
			return nil, err
		}
		retiring = append(retiring, key)
	}
	return retiring, rows.Err()
}

func (s *PostgresKeyStore) ExpireRetired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.pool.Exec(ctx,
		`UPDATE encryption_keys SET status = $1 WHERE status = $2 AND expires_at <= $3`,
		string(KeyExpired), string(KeyRetiring), now)
	if err != nil {
		return 0, fmt.Errorf("expire retired keys: %w", err)
	}
	return int(res.RowsAffected()), nil
}
