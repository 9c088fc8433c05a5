// Package testutil provides shared helpers for service and integration
// tests: ready-made actor contexts and request decoration matching what the
// auth middleware produces.
package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"custos/internal/tenantctx"
	id "custos/pkg/domain"
)

// NewActor builds an authenticated actor context in the given tenant.
func NewActor(t *testing.T, tenantID id.TenantID, role tenantctx.Role) tenantctx.Context {
	t.Helper()
	userID := id.NewUserID()
	tc, err := tenantctx.Begin(tenantID, userID, role, id.NewSessionID(), "", "", "", time.Time{})
	require.NoError(t, err)
	return tc
}

// NewActorAs is NewActor with a caller-chosen user ID, for tests that link
// the actor to subject data.
func NewActorAs(t *testing.T, tenantID id.TenantID, userID id.UserID, role tenantctx.Role) tenantctx.Context {
	t.Helper()
	tc, err := tenantctx.Begin(tenantID, userID, role, id.NewSessionID(), "", "", "", time.Time{})
	require.NoError(t, err)
	return tc
}

// WithActor binds an actor context to the request, simulating what the auth
// middleware does after validating a bearer token.
func WithActor(req *http.Request, tc tenantctx.Context) *http.Request {
	return req.WithContext(tenantctx.WithContext(req.Context(), tc))
}
