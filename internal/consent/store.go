package consent

import (
	"context"
	"time"

	id "custos/pkg/domain"
)

// Store persists consent records keyed by (subject, tenant). Grants append;
// revocation and expiry mutate the status of existing rows.
type Store interface {
	Save(ctx context.Context, record Record) error
	ListBySubject(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID) ([]Record, error)
	Revoke(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type, revokedAt time.Time) error
	MarkExpired(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type) error
}
