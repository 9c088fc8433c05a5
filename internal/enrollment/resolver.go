package enrollment

import (
	"context"

	"custos/internal/policy"
	"custos/internal/tenantctx"
	pkgerrors "custos/pkg/domain-errors"
)

// Resolver adapts the roster store into a policy relationship predicate.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Predicate returns the link check for staff access to subject records. A
// store failure denies closed.
func (r *Resolver) Predicate() policy.RelationshipPredicate {
	return func(ctx context.Context, tc tenantctx.Context, resource policy.ResourceDescriptor) error {
		if resource.SubjectID.IsNil() {
			return pkgerrors.New(pkgerrors.CodeRoleInsufficient, "record has no subject to match a roster against")
		}
		linked, err := r.store.Linked(ctx, tc.TenantID, tc.UserID, resource.SubjectID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, "roster lookup failed", err)
		}
		if !linked {
			return pkgerrors.New(pkgerrors.CodeRoleInsufficient, "subject is not on the caller's roster")
		}
		return nil
	}
}
