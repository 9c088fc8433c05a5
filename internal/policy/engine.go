// Package policy implements the tenant-isolation decision engine. Evaluation
// is pure with respect to engine state: the capability matrix and predicate
// registry are frozen at construction, so Evaluate is safe for unbounded
// concurrent use.
package policy

import (
	"context"

	"custos/internal/policy/metrics"
	"custos/internal/tenantctx"
	pkgerrors "custos/pkg/domain-errors"
)

// RelationshipPredicate verifies a non-staff caller's link to a resource
// (parent consent, teacher enrollment). Supplied by the resource owner at
// wiring time; must be side-effect-free and fast, since it runs on the hot
// path of every access.
//
// A nil return means the relationship holds. A coded error (consent_required,
// consent_expired) turns into the corresponding deny reason; any other error
// denies with role_insufficient.
type RelationshipPredicate func(ctx context.Context, tc tenantctx.Context, resource ResourceDescriptor) error

// capabilityKey addresses one cell of the role->capability matrix.
type capabilityKey struct {
	role         tenantctx.Role
	resourceType string
	action       Action
}

// Capability is one grant in the matrix. Rule names end up in audit entries,
// so keep them stable.
type Capability struct {
	Role         tenantctx.Role
	ResourceType string
	Action       Action
	Rule         string

	// RequireRelationship gates the grant behind the predicate registered
	// for the resource type.
	RequireRelationship bool
}

type predicateKey struct {
	role         tenantctx.Role
	resourceType string
}

// Engine maps (actor, resource, action) to an allow/deny decision.
type Engine struct {
	matrix     map[capabilityKey]Capability
	predicates map[predicateKey]RelationshipPredicate
	metrics    *metrics.Metrics
}

// Option configures an Engine before it is frozen.
type Option func(*Engine)

// WithCapabilities adds grants on top of the built-in matrix. Later entries
// win, so configuration can tighten or relax a default cell.
func WithCapabilities(caps []Capability) Option {
	return func(e *Engine) {
		for _, c := range caps {
			e.matrix[capabilityKey{c.Role, c.ResourceType, c.Action}] = c
		}
	}
}

// WithRelationship registers the owner-supplied link predicate consulted for
// grants marked RequireRelationship.
func WithRelationship(role tenantctx.Role, resourceType string, pred RelationshipPredicate) Option {
	return func(e *Engine) {
		e.predicates[predicateKey{role, resourceType}] = pred
	}
}

// WithMetrics attaches decision counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an engine with the default matrix plus any options. The
// returned engine is immutable.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		matrix:     make(map[capabilityKey]Capability),
		predicates: make(map[predicateKey]RelationshipPredicate),
	}
	WithCapabilities(defaultMatrix)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether the actor may perform action on resource.
// Denials are ordinary results, never errors; predicate infrastructure
// failures (e.g. the consent store is down) deny closed.
func (e *Engine) Evaluate(ctx context.Context, tc tenantctx.Context, resource ResourceDescriptor, action Action) Decision {
	d := e.evaluate(ctx, tc, resource, action)
	if e.metrics != nil {
		e.metrics.RecordDecision(string(tc.Role), resource.Type, string(action), d.Allowed)
	}
	return d
}

func (e *Engine) evaluate(ctx context.Context, tc tenantctx.Context, resource ResourceDescriptor, action Action) Decision {
	// SuperAdmin bypasses the matrix but the access is flagged so audit
	// entries record it as elevated.
	if tc.Role == tenantctx.RoleSuperAdmin {
		d := allow(tc.Role, "super_admin_override")
		d.Reason = ReasonElevated
		d.Elevated = true
		return d
	}

	// Isolation invariant: no grant reaches across tenants.
	if resource.OwnerTenant != tc.TenantID {
		return deny(tc.Role, ReasonTenantMismatch)
	}

	grant, ok := e.lookup(tc.Role, resource.Type, action)
	if !ok {
		return deny(tc.Role, ReasonNoRule)
	}

	if grant.RequireRelationship {
		pred, ok := e.predicates[predicateKey{tc.Role, resource.Type}]
		if !ok {
			// No predicate registered: deny closed rather than grant
			// relationship-gated access unchecked.
			return deny(tc.Role, ReasonRoleNoGrant)
		}
		if err := pred(ctx, tc, resource); err != nil {
			return deny(tc.Role, denyReasonFor(err))
		}
	}

	return allow(tc.Role, grant.Rule)
}

// lookup resolves a matrix cell, falling back to the wildcard resource type.
func (e *Engine) lookup(role tenantctx.Role, resourceType string, action Action) (Capability, bool) {
	if grant, ok := e.matrix[capabilityKey{role, resourceType, action}]; ok {
		return grant, ok
	}
	grant, ok := e.matrix[capabilityKey{role, ResourceAny, action}]
	return grant, ok
}

// RowFilter returns a predicate for bulk visibility filtering. The storage
// layer applies it to candidate rows instead of calling Evaluate per row; the
// decision logic is identical.
func (e *Engine) RowFilter(ctx context.Context, tc tenantctx.Context, resourceType string, action Action) func(ResourceDescriptor) bool {
	return func(resource ResourceDescriptor) bool {
		return e.evaluate(ctx, tc, resource, action).Allowed
	}
}

func denyReasonFor(err error) Reason {
	switch {
	case pkgerrors.HasCode(err, pkgerrors.CodeConsentRequired):
		return ReasonConsentMissing
	case pkgerrors.HasCode(err, pkgerrors.CodeConsentExpired):
		return ReasonConsentExpired
	default:
		return ReasonRoleNoGrant
	}
}
