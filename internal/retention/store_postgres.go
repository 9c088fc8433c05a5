package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// PostgresPolicyStore persists retention policies in retention_policies,
// keyed by (tenant_id, data_class).
type PostgresPolicyStore struct {
	db *sql.DB
}

func NewPostgresPolicyStore(db *sql.DB) *PostgresPolicyStore {
	return &PostgresPolicyStore{db: db}
}

func (s *PostgresPolicyStore) Upsert(ctx context.Context, p Policy) error {
	query := `
		INSERT INTO retention_policies (tenant_id, data_class, retention_seconds, action_on_expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, data_class) DO UPDATE
		SET retention_seconds = EXCLUDED.retention_seconds,
		    action_on_expiry = EXCLUDED.action_on_expiry,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(p.TenantID),
		p.DataClass,
		int64(p.RetentionPeriod/time.Second),
		string(p.ActionOnExpiry),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert retention policy: %w", err)
	}
	return nil
}

func (s *PostgresPolicyStore) ByTenant(ctx context.Context, tenantID id.TenantID) ([]Policy, error) {
	query := policySelect + ` WHERE tenant_id = $1 ORDER BY data_class`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

func (s *PostgresPolicyStore) All(ctx context.Context) ([]Policy, error) {
	query := policySelect + ` ORDER BY tenant_id, data_class`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

const policySelect = `
	SELECT tenant_id, data_class, retention_seconds, action_on_expiry, updated_at
	FROM retention_policies
`

func collectPolicies(rows *sql.Rows) ([]Policy, error) {
	var out []Policy
	for rows.Next() {
		var (
			p       Policy
			tenant  uuid.UUID
			seconds int64
			action  string
		)
		if err := rows.Scan(&tenant, &p.DataClass, &seconds, &action, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		p.TenantID = id.TenantID(tenant)
		p.RetentionPeriod = time.Duration(seconds) * time.Second
		p.ActionOnExpiry = Action(action)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PostgresRecordStore persists the lifecycle ledger in retention_records.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Register(ctx context.Context, rec DataRecord) error {
	if rec.State == "" {
		rec.State = StateActive
	}
	if rec.StateChangedAt.IsZero() {
		rec.StateChangedAt = rec.CreatedAt
	}
	query := `
		INSERT INTO retention_records
			(id, tenant_id, subject_id, resource_type, data_class, state, tokens, created_at, state_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.TenantID),
		uuid.UUID(rec.SubjectID),
		rec.ResourceType,
		rec.DataClass,
		string(rec.State),
		pq.Array(rec.Tokens),
		rec.CreatedAt,
		rec.StateChangedAt,
	)
	if err != nil {
		return fmt.Errorf("register retention record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("register retention record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresRecordStore) Get(ctx context.Context, recordID id.ResourceID) (DataRecord, error) {
	query := recordSelect + ` WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, uuid.UUID(recordID)))
	if errors.Is(err, sql.ErrNoRows) {
		return DataRecord{}, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *PostgresRecordStore) Due(ctx context.Context, p Policy, asOf time.Time, limit int) ([]DataRecord, error) {
	target, ok := p.ActionOnExpiry.TargetState()
	if !ok {
		return nil, sentinel.ErrInvalidState
	}
	query := recordSelect + `
		WHERE tenant_id = $1 AND data_class = $2
		  AND state = ANY($3)
		  AND created_at <= $4
		ORDER BY created_at
	`
	args := []any{
		uuid.UUID(p.TenantID),
		p.DataClass,
		pq.Array(statesBefore(target)),
		asOf.Add(-p.RetentionPeriod),
	}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due retention records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *PostgresRecordStore) BySubject(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, dataClasses []string) ([]DataRecord, error) {
	query := recordSelect + `
		WHERE tenant_id = $1 AND subject_id = $2
		  AND ($3::text[] IS NULL OR cardinality($3::text[]) = 0 OR data_class = ANY($3))
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(subjectID), pq.Array(dataClasses))
	if err != nil {
		return nil, fmt.Errorf("list subject retention records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *PostgresRecordStore) Transition(ctx context.Context, recordID id.ResourceID, from, to State, at time.Time) error {
	query := `
		UPDATE retention_records
		SET state = $1, state_changed_at = $2
		WHERE id = $3 AND state = $4
	`
	res, err := s.db.ExecContext(ctx, query, string(to), at, uuid.UUID(recordID), string(from))
	if err != nil {
		return fmt.Errorf("transition retention record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition retention record: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, recordID); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

const recordSelect = `
	SELECT id, tenant_id, subject_id, resource_type, data_class, state, tokens, created_at, state_changed_at
	FROM retention_records
`

// statesBefore returns the states a record may hold and still legally reach
// target.
func statesBefore(target State) []string {
	var out []string
	for from := range forward {
		if CanTransition(from, target) {
			out = append(out, string(from))
		}
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (DataRecord, error) {
	var (
		rec             DataRecord
		recID           uuid.UUID
		tenant, subject uuid.UUID
		state           string
		tokens          pq.StringArray
	)
	err := row.Scan(&recID, &tenant, &subject, &rec.ResourceType, &rec.DataClass, &state, &tokens, &rec.CreatedAt, &rec.StateChangedAt)
	if err != nil {
		return DataRecord{}, err
	}
	rec.ID = id.ResourceID(recID)
	rec.TenantID = id.TenantID(tenant)
	rec.SubjectID = id.SubjectID(subject)
	rec.State = State(state)
	rec.Tokens = []string(tokens)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]DataRecord, error) {
	var out []DataRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
