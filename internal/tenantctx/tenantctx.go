// Package tenantctx defines the request-scoped actor identity that every
// authorization, audit, and vault call receives explicitly. Nothing in this
// codebase reads tenant or role information from ambient state; the Context
// value is created once per request and passed by value from there on.
package tenantctx

import (
	"context"
	"time"

	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
)

// Role is the caller's role within its tenant. The ordering of the constants
// is not meaningful; privilege comparisons go through the policy engine's
// capability matrix, never through numeric comparison of roles.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleCounselor  Role = "counselor"
	RoleParent     Role = "parent"
	RoleStudent    Role = "student"
	RoleSystem     Role = "system"
)

var validRoles = map[Role]bool{
	RoleSuperAdmin: true,
	RoleAdmin:      true,
	RoleTeacher:    true,
	RoleCounselor:  true,
	RoleParent:     true,
	RoleStudent:    true,
	RoleSystem:     true,
}

// ParseRole validates a raw role string from a token claim.
func ParseRole(raw string) (Role, error) {
	role := Role(raw)
	if !validRoles[role] {
		return "", pkgerrors.New(pkgerrors.CodeInvalidInput, "unknown role: "+raw)
	}
	return role, nil
}

// Context is the immutable actor identity for one request. UserID is nil for
// system actors (the retention sweeper, key-rotation migration). Copies are
// cheap; pass by value.
type Context struct {
	TenantID  id.TenantID
	UserID    id.UserID
	Role      Role
	SessionID id.SessionID
	RequestID string
	IP        string
	UserAgent string
	IssuedAt  time.Time
}

// Begin validates and freezes a request actor. It is the only constructor for
// user-originated contexts; transports call it after authenticating the
// caller.
func Begin(tenantID id.TenantID, userID id.UserID, role Role, sessionID id.SessionID, requestID, ip, userAgent string, issuedAt time.Time) (Context, error) {
	if tenantID.IsNil() {
		return Context{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "tenant id is required")
	}
	if !validRoles[role] {
		return Context{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "unknown role: "+string(role))
	}
	if userID.IsNil() && role != RoleSystem {
		return Context{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "user id is required for non-system actors")
	}
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	return Context{
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
		RequestID: requestID,
		IP:        ip,
		UserAgent: userAgent,
		IssuedAt:  issuedAt,
	}, nil
}

// System returns an actor for background work scoped to one tenant. System
// actors go through the same policy and audit path as users.
func System(tenantID id.TenantID, requestID string, now time.Time) Context {
	return Context{
		TenantID:  tenantID,
		Role:      RoleSystem,
		RequestID: requestID,
		IssuedAt:  now,
	}
}

// IsSystem reports whether the actor is a background system actor.
func (c Context) IsSystem() bool { return c.Role == RoleSystem }

type ctxKey struct{}

// WithContext binds an actor to a context for the span of one request.
// end_request semantics are the request context's own cancellation: once the
// request context is done, the binding is unreachable.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext retrieves the bound actor. The second return is false outside
// the span of a request; callers must treat that as unauthenticated.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}
