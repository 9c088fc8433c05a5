package consent

import (
	"time"

	id "custos/pkg/domain"
)

// Type labels what a consent covers. The legally meaningful taxonomy lives in
// configuration; these are the types the core ships predicates for.
type Type string

const (
	// TypeGuardianDisclosure allows a linked parent or guardian to view the
	// subject's academic records.
	TypeGuardianDisclosure Type = "guardian_disclosure"

	// TypeMedicalDisclosure allows counselors to view health-related fields.
	TypeMedicalDisclosure Type = "medical_disclosure"

	// TypeDirectoryInfo allows directory-style information (name, class) to
	// appear in listings visible to other tenant members.
	TypeDirectoryInfo Type = "directory_info"
)

// Status is the lifecycle state of one consent record.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Record captures one subject's consent decision for one holder and type.
// HolderID is the user the disclosure is granted to (e.g. the guardian); a
// nil holder means the consent applies to any holder passing the role check.
type Record struct {
	SubjectID    id.SubjectID
	TenantID     id.TenantID
	HolderID     id.UserID
	Type         Type
	Status       Status
	GrantedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	Restrictions []string
}

// ActiveAt reports whether this record authorizes disclosure at the given
// time. A zero ExpiresAt means no time bound.
func (r Record) ActiveAt(now time.Time) bool {
	if r.Status != StatusGranted {
		return false
	}
	if r.RevokedAt != nil && !r.RevokedAt.After(now) {
		return false
	}
	if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
		return false
	}
	return true
}

// ExpiredAt reports whether the record was granted but has lapsed, either by
// time or by an explicit Expired status. Distinguishing lapsed from absent
// drives the consent_expired vs consent_required deny reasons.
func (r Record) ExpiredAt(now time.Time) bool {
	if r.Status == StatusExpired {
		return true
	}
	if r.Status != StatusGranted {
		return false
	}
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Covers reports whether the record applies to the given holder.
func (r Record) Covers(holder id.UserID) bool {
	return r.HolderID.IsNil() || r.HolderID == holder
}
