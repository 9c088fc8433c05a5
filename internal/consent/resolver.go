package consent

import (
	"context"

	"custos/internal/policy"
	"custos/internal/tenantctx"
	pkgerrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

// Resolver builds relationship predicates backed by the consent store. The
// policy engine stays ignorant of consent semantics; it only sees a predicate
// that holds or fails with a coded reason.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Predicate returns a policy predicate requiring an active consent of the
// given type linking the caller (as holder) to the record's subject.
//
// The distinction between the two failure codes matters: a lapsed grant
// denies as consent_expired, absence or revocation as consent_required.
func (r *Resolver) Predicate(typ Type) policy.RelationshipPredicate {
	return func(ctx context.Context, tc tenantctx.Context, resource policy.ResourceDescriptor) error {
		if resource.SubjectID.IsNil() {
			return pkgerrors.New(pkgerrors.CodeConsentRequired, "record has no data subject")
		}
		records, err := r.store.ListBySubject(ctx, tc.TenantID, resource.SubjectID)
		if err != nil {
			// Fail closed: an unreachable consent store must never
			// widen access.
			return pkgerrors.Wrap(pkgerrors.CodeInternal, "consent lookup failed", err)
		}
		now := requestcontext.Now(ctx)
		sawExpired := false
		for _, record := range records {
			if record.Type != typ || !record.Covers(tc.UserID) {
				continue
			}
			if record.ActiveAt(now) {
				return nil
			}
			if record.ExpiredAt(now) {
				sawExpired = true
			}
		}
		if sawExpired {
			return pkgerrors.New(pkgerrors.CodeConsentExpired, "consent has expired")
		}
		return pkgerrors.New(pkgerrors.CodeConsentRequired, "no active consent for subject")
	}
}
