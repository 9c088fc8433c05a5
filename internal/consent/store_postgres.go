package consent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// PostgresStore persists consent records in the consent_records table,
// indexed by (subject_id, tenant_id).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	query := `
		INSERT INTO consent_records
			(subject_id, tenant_id, holder_id, consent_type, status, granted_at, expires_at, revoked_at, restrictions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var holder any
	if !record.HolderID.IsNil() {
		holder = uuid.UUID(record.HolderID)
	}
	var expires any
	if !record.ExpiresAt.IsZero() {
		expires = record.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(record.SubjectID),
		uuid.UUID(record.TenantID),
		holder,
		string(record.Type),
		string(record.Status),
		record.GrantedAt,
		expires,
		record.RevokedAt,
		pq.Array(record.Restrictions),
	)
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID) ([]Record, error) {
	query := `
		SELECT subject_id, tenant_id, holder_id, consent_type, status, granted_at, expires_at, revoked_at, restrictions
		FROM consent_records
		WHERE tenant_id = $1 AND subject_id = $2
		ORDER BY granted_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Revoke(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type, revokedAt time.Time) error {
	query := `
		UPDATE consent_records
		SET status = $1, revoked_at = $2
		WHERE tenant_id = $3 AND subject_id = $4 AND consent_type = $5 AND status = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		string(StatusRevoked), revokedAt,
		uuid.UUID(tenantID), uuid.UUID(subjectID), string(typ), string(StatusGranted),
	)
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke consent rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkExpired(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type) error {
	query := `
		UPDATE consent_records
		SET status = $1
		WHERE tenant_id = $2 AND subject_id = $3 AND consent_type = $4 AND status = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		string(StatusExpired),
		uuid.UUID(tenantID), uuid.UUID(subjectID), string(typ), string(StatusGranted),
	)
	if err != nil {
		return fmt.Errorf("mark consent expired: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		record    Record
		subject   uuid.UUID
		tenant    uuid.UUID
		holder    uuid.NullUUID
		typ       string
		status    string
		expires   sql.NullTime
		revokedAt sql.NullTime
	)
	err := row.Scan(&subject, &tenant, &holder, &typ, &status,
		&record.GrantedAt, &expires, &revokedAt, pq.Array(&record.Restrictions))
	if err != nil {
		return Record{}, fmt.Errorf("scan consent record: %w", err)
	}
	record.SubjectID = id.SubjectID(subject)
	record.TenantID = id.TenantID(tenant)
	if holder.Valid {
		record.HolderID = id.UserID(holder.UUID)
	}
	record.Type = Type(typ)
	record.Status = Status(status)
	if expires.Valid {
		record.ExpiresAt = expires.Time
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		record.RevokedAt = &at
	}
	return record, nil
}
