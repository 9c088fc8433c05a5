package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"custos/internal/policy"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
)

// PostgresStore persists the chain in two tables: audit_events, indexed by
// (tenant_id, created_at) with a unique (tenant_id, seq), and chain_tips
// holding each tenant's last committed hash. Append commits both in one
// transaction so the tip can never point past or behind the stored entries.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO audit_events
			(id, tenant_id, seq,
			 actor_user_id, actor_role, actor_session_id, actor_request_id, actor_ip, actor_user_agent,
			 action, resource_type, resource_id, resource_owner_tenant, subject_id,
			 allowed, reason, rule, elevated,
			 before_digest, after_digest, payload, prev_hash, this_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	var actorUser any
	if !event.Actor.UserID.IsNil() {
		actorUser = uuid.UUID(event.Actor.UserID)
	}
	var session any
	if !event.Actor.SessionID.IsNil() {
		session = uuid.UUID(event.Actor.SessionID)
	}
	_, err = tx.ExecContext(ctx, insert,
		event.ID,
		uuid.UUID(event.TenantID),
		int64(event.Seq),
		actorUser,
		string(event.Actor.Role),
		session,
		event.Actor.RequestID,
		event.Actor.IP,
		event.Actor.UserAgent,
		event.Action,
		event.Resource.Type,
		uuid.UUID(event.Resource.ID),
		uuid.UUID(event.Resource.OwnerTenant),
		uuid.UUID(event.Resource.SubjectID),
		event.Allowed,
		string(event.Reason),
		event.Rule,
		event.Elevated,
		event.BeforeDigest,
		event.AfterDigest,
		event.Payload,
		event.PrevHash,
		event.ThisHash,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	tip := `
		INSERT INTO chain_tips (tenant_id, seq, this_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET seq = EXCLUDED.seq, this_hash = EXCLUDED.this_hash
	`
	if _, err := tx.ExecContext(ctx, tip, uuid.UUID(event.TenantID), int64(event.Seq), event.ThisHash); err != nil {
		return fmt.Errorf("advance chain tip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) Tip(ctx context.Context, tenantID id.TenantID) (string, uint64, error) {
	var (
		hash string
		seq  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT this_hash, seq FROM chain_tips WHERE tenant_id = $1`,
		uuid.UUID(tenantID),
	).Scan(&hash, &seq)
	if err == sql.ErrNoRows {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("load chain tip: %w", err)
	}
	return hash, uint64(seq), nil
}

const eventColumns = `
	id, tenant_id, seq,
	actor_user_id, actor_role, actor_session_id, actor_request_id, actor_ip, actor_user_agent,
	action, resource_type, resource_id, resource_owner_tenant, subject_id,
	allowed, reason, rule, elevated,
	before_digest, after_digest, payload, prev_hash, this_hash, created_at`

func (s *PostgresStore) Range(ctx context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) ([]Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM audit_events
		WHERE tenant_id = $1 AND seq BETWEEN $2 AND $3
		ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID), int64(fromSeq), int64(toSeq))
	if err != nil {
		return nil, fmt.Errorf("range audit events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) Query(ctx context.Context, tenantID id.TenantID, filter Filter) ([]Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM audit_events
		WHERE tenant_id = $1 AND seq > $2`
	args := []any{uuid.UUID(tenantID), int64(filter.AfterSeq)}

	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		query += fmt.Sprintf(" AND resource_type = $%d", len(args))
	}
	if filter.AllowedOnly {
		query += " AND allowed"
	}
	if filter.DeniedOnly {
		query += " AND NOT allowed"
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e           Event
			tenant      uuid.UUID
			seq         int64
			actorUser   uuid.NullUUID
			actorRole   string
			session     uuid.NullUUID
			resourceID  uuid.UUID
			ownerTenant uuid.UUID
			subject     uuid.UUID
			reason      string
		)
		err := rows.Scan(
			&e.ID, &tenant, &seq,
			&actorUser, &actorRole, &session, &e.Actor.RequestID, &e.Actor.IP, &e.Actor.UserAgent,
			&e.Action, &e.Resource.Type, &resourceID, &ownerTenant, &subject,
			&e.Allowed, &reason, &e.Rule, &e.Elevated,
			&e.BeforeDigest, &e.AfterDigest, &e.Payload, &e.PrevHash, &e.ThisHash, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.TenantID = id.TenantID(tenant)
		e.Seq = uint64(seq)
		e.Actor.TenantID = id.TenantID(tenant)
		if actorUser.Valid {
			e.Actor.UserID = id.UserID(actorUser.UUID)
		}
		e.Actor.Role = tenantctx.Role(actorRole)
		if session.Valid {
			e.Actor.SessionID = id.SessionID(session.UUID)
		}
		e.Resource.ID = id.ResourceID(resourceID)
		e.Resource.OwnerTenant = id.TenantID(ownerTenant)
		e.Resource.SubjectID = id.SubjectID(subject)
		e.Reason = policy.Reason(reason)
		events = append(events, e)
	}
	return events, rows.Err()
}
