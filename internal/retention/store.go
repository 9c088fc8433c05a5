package retention

import (
	"context"
	"time"

	id "custos/pkg/domain"
)

// PolicyStore persists retention policies, one per (tenant, data class).
type PolicyStore interface {
	// Upsert inserts or replaces the tenant's policy for the data class.
	Upsert(ctx context.Context, p Policy) error
	// ByTenant returns the tenant's policies.
	ByTenant(ctx context.Context, tenantID id.TenantID) ([]Policy, error)
	// All returns every policy across tenants, for the global sweep.
	All(ctx context.Context) ([]Policy, error)
}

// RecordStore persists lifecycle ledger entries.
type RecordStore interface {
	// Register adds a record in StateActive. Registering an existing ID
	// returns sentinel.ErrConflict.
	Register(ctx context.Context, rec DataRecord) error
	// Get returns a record by ID or sentinel.ErrNotFound.
	Get(ctx context.Context, recordID id.ResourceID) (DataRecord, error)
	// Due returns records covered by p whose current state precedes the
	// policy's target and whose age at asOf exceeds the retention period.
	Due(ctx context.Context, p Policy, asOf time.Time, limit int) ([]DataRecord, error)
	// BySubject returns the subject's records in the given data classes.
	BySubject(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, dataClasses []string) ([]DataRecord, error)
	// Transition moves a record from -> to, recording at as the change
	// time. Returns sentinel.ErrInvalidState when the stored state is not
	// from, so concurrent sweepers settle on exactly one winner.
	Transition(ctx context.Context, recordID id.ResourceID, from, to State, at time.Time) error
}
