package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// PostgresEntryStore persists vault entries in the vault_entries table,
// keyed by token. It uses pgx directly: entries are written and read on the
// hot path of every protected-field access and the binary parameters avoid
// round-tripping ciphertext through text encoding.
type PostgresEntryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEntryStore(pool *pgxpool.Pool) *PostgresEntryStore {
	return &PostgresEntryStore{pool: pool}
}

func (s *PostgresEntryStore) Save(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO vault_entries
			(token, tenant_id, data_type, resource_type, resource_id, subject_id,
			 key_id, nonce, ciphertext, tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (token) DO NOTHING
	`
	res, err := s.pool.Exec(ctx, query,
		entry.Token,
		uuid.UUID(entry.TenantID),
		entry.DataType,
		entry.ResourceType,
		uuid.UUID(entry.ResourceID),
		uuid.UUID(entry.SubjectID),
		uuid.UUID(entry.KeyID),
		entry.Nonce,
		entry.Ciphertext,
		entry.Tag,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vault entry: %w", err)
	}
	if res.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresEntryStore) Get(ctx context.Context, token string) (Entry, error) {
	query := `
		SELECT token, tenant_id, data_type, resource_type, resource_id, subject_id,
		       key_id, nonce, ciphertext, tag, created_at, deleted_at
		FROM vault_entries
		WHERE token = $1
	`
	var (
		entry      Entry
		tenant     uuid.UUID
		resourceID uuid.UUID
		subject    uuid.UUID
		keyID      uuid.UUID
		deletedAt  *time.Time
	)
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&entry.Token, &tenant, &entry.DataType, &entry.ResourceType, &resourceID, &subject,
		&keyID, &entry.Nonce, &entry.Ciphertext, &entry.Tag, &entry.CreatedAt, &deletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get vault entry: %w", err)
	}
	entry.TenantID = id.TenantID(tenant)
	entry.ResourceID = id.ResourceID(resourceID)
	entry.SubjectID = id.SubjectID(subject)
	entry.KeyID = id.KeyID(keyID)
	entry.DeletedAt = deletedAt
	return entry, nil
}

func (s *PostgresEntryStore) Scrub(ctx context.Context, token string, at time.Time) error {
	query := `
		UPDATE vault_entries
		SET nonce = NULL, ciphertext = NULL, tag = NULL, deleted_at = $1
		WHERE token = $2 AND deleted_at IS NULL
	`
	res, err := s.pool.Exec(ctx, query, at, token)
	if err != nil {
		return fmt.Errorf("scrub vault entry: %w", err)
	}
	if res.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresEntryStore) TokensByKey(ctx context.Context, keyID id.KeyID) ([]string, error) {
	query := `SELECT token FROM vault_entries WHERE key_id = $1 AND deleted_at IS NULL`
	rows, err := s.pool.Query(ctx, query, uuid.UUID(keyID))
	if err != nil {
		return nil, fmt.Errorf("list tokens by key: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (s *PostgresEntryStore) Replace(ctx context.Context, entry Entry) error {
	query := `
		UPDATE vault_entries
		SET key_id = $1, nonce = $2, ciphertext = $3, tag = $4
		WHERE token = $5 AND deleted_at IS NULL
	`
	res, err := s.pool.Exec(ctx, query,
		uuid.UUID(entry.KeyID), entry.Nonce, entry.Ciphertext, entry.Tag, entry.Token)
	if err != nil {
		return fmt.Errorf("replace vault entry: %w", err)
	}
	if res.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
