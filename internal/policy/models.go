package policy

import (
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
)

// Action is the operation a caller wants to perform on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionReveal is detokenization of a protected field. It is always
	// checked separately from ActionRead: seeing a record does not imply
	// seeing its vaulted fields.
	ActionReveal Action = "reveal"

	// Retention lifecycle transitions. The sweeper requests these as the
	// System actor and is subject to the same matrix as everyone else.
	ActionArchive   Action = "archive"
	ActionAnonymize Action = "anonymize"
	ActionPurge     Action = "purge"
)

// ResourceDescriptor identifies a business record without interpreting it.
// The surrounding application owns the schema; the core only needs the type
// tag, the id, the owning tenant, and whatever relationship hints the
// registered predicates want to consult.
type ResourceDescriptor struct {
	Type        string
	ID          id.ResourceID
	OwnerTenant id.TenantID

	// SubjectID is the data subject the record is about (e.g. the student a
	// grade belongs to). Consent-backed predicates key off it.
	SubjectID id.SubjectID

	// RelationshipHints carries owner-supplied link data (e.g. class ids)
	// for predicates that do not have their own lookup path.
	RelationshipHints map[string]string
}

// Reason explains a decision. Deny reasons are never shown to end users; they
// flow into audit entries and operator logs only.
type Reason string

const (
	ReasonAllowed        Reason = "allowed"
	ReasonElevated       Reason = "elevated_access"
	ReasonTenantMismatch Reason = "tenant_mismatch"
	ReasonRoleNoGrant    Reason = "role_insufficient"
	ReasonConsentMissing Reason = "consent_required"
	ReasonConsentExpired Reason = "consent_expired"
	ReasonNoRule         Reason = "no_matching_rule"
)

// Decision is the outcome of one evaluation. Ephemeral; it is only persisted
// embedded in an audit event.
type Decision struct {
	Allowed       bool
	Reason        Reason
	EvaluatedRole tenantctx.Role
	MatchedRule   string

	// Elevated marks a SuperAdmin bypass so the audit trail can single
	// those accesses out.
	Elevated bool
}

func allow(role tenantctx.Role, rule string) Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed, EvaluatedRole: role, MatchedRule: rule}
}

func deny(role tenantctx.Role, reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason, EvaluatedRole: role}
}

// DenialError maps a deny decision to its coded error. Transports collapse
// all of these into one generic "not authorized" response.
func DenialError(decision Decision) error {
	switch decision.Reason {
	case ReasonTenantMismatch:
		return pkgerrors.New(pkgerrors.CodeTenantMismatch, "resource belongs to another tenant")
	case ReasonConsentMissing:
		return pkgerrors.New(pkgerrors.CodeConsentRequired, "consent not granted")
	case ReasonConsentExpired:
		return pkgerrors.New(pkgerrors.CodeConsentExpired, "consent has expired")
	default:
		return pkgerrors.New(pkgerrors.CodeRoleInsufficient, "role lacks required capability")
	}
}
