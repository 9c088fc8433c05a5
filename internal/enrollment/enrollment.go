// Package enrollment tracks which staff member's class roster contains
// which student. The policy engine consults it, through a relationship
// predicate, for teacher and counselor access to subject records.
package enrollment

import (
	"context"
	"time"

	id "custos/pkg/domain"
)

// Link records one roster membership: the staff member teaches a class the
// student is enrolled in.
type Link struct {
	TenantID  id.TenantID
	StaffID   id.UserID
	ClassID   id.ResourceID
	SubjectID id.SubjectID
	CreatedAt time.Time
}

// Store persists roster links.
type Store interface {
	Add(ctx context.Context, link Link) error
	Remove(ctx context.Context, tenantID id.TenantID, staffID id.UserID, subjectID id.SubjectID) error
	// Linked reports whether any class links the staff member to the
	// subject within the tenant.
	Linked(ctx context.Context, tenantID id.TenantID, staffID id.UserID, subjectID id.SubjectID) (bool, error)
}
