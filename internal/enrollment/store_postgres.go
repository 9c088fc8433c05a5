package enrollment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "custos/pkg/domain"
)

// PostgresStore persists roster links in the enrollment_links table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Add(ctx context.Context, link Link) error {
	query := `
		INSERT INTO enrollment_links (tenant_id, staff_id, class_id, subject_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(link.TenantID),
		uuid.UUID(link.StaffID),
		uuid.UUID(link.ClassID),
		uuid.UUID(link.SubjectID),
		link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert enrollment link: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, tenantID id.TenantID, staffID id.UserID, subjectID id.SubjectID) error {
	query := `
		DELETE FROM enrollment_links
		WHERE tenant_id = $1 AND staff_id = $2 AND subject_id = $3
	`
	_, err := s.db.ExecContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(staffID), uuid.UUID(subjectID))
	if err != nil {
		return fmt.Errorf("delete enrollment links: %w", err)
	}
	return nil
}

func (s *PostgresStore) Linked(ctx context.Context, tenantID id.TenantID, staffID id.UserID, subjectID id.SubjectID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM enrollment_links
			WHERE tenant_id = $1 AND staff_id = $2 AND subject_id = $3
		)
	`
	var linked bool
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(staffID), uuid.UUID(subjectID)).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("check enrollment link: %w", err)
	}
	return linked, nil
}
