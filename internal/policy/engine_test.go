package policy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
)

func newActor(t *testing.T, tenantID id.TenantID, role tenantctx.Role) tenantctx.Context {
	t.Helper()
	tc, err := tenantctx.Begin(tenantID, id.NewUserID(), role, id.NewSessionID(), "req-1", "10.0.0.1", "test", time.Now())
	require.NoError(t, err)
	return tc
}

func TestEvaluate_CrossTenantDenied(t *testing.T) {
	engine := NewEngine()
	tenantA := id.NewTenantID()
	tenantB := id.NewTenantID()
	resource := ResourceDescriptor{Type: ResourceStudent, OwnerTenant: tenantB}

	for _, role := range []tenantctx.Role{
		tenantctx.RoleAdmin,
		tenantctx.RoleTeacher,
		tenantctx.RoleCounselor,
		tenantctx.RoleParent,
		tenantctx.RoleStudent,
	} {
		tc := newActor(t, tenantA, role)
		d := engine.Evaluate(context.Background(), tc, resource, ActionRead)
		assert.False(t, d.Allowed, "role %s", role)
		assert.Equal(t, ReasonTenantMismatch, d.Reason, "role %s", role)
	}
}

func TestEvaluate_SuperAdminBypassIsElevated(t *testing.T) {
	engine := NewEngine()
	tc := newActor(t, id.NewTenantID(), tenantctx.RoleSuperAdmin)
	resource := ResourceDescriptor{Type: ResourceStudent, OwnerTenant: id.NewTenantID()}

	d := engine.Evaluate(context.Background(), tc, resource, ActionDelete)
	assert.True(t, d.Allowed)
	assert.True(t, d.Elevated)
	assert.Equal(t, ReasonElevated, d.Reason)
	assert.Equal(t, "super_admin_override", d.MatchedRule)
}

func TestEvaluate_MatrixLookup(t *testing.T) {
	engine := NewEngine()
	tenantID := id.NewTenantID()
	grade := ResourceDescriptor{Type: ResourceGrade, OwnerTenant: tenantID}

	t.Run("admin reads any resource via wildcard", func(t *testing.T) {
		tc := newActor(t, tenantID, tenantctx.RoleAdmin)
		d := engine.Evaluate(context.Background(), tc, grade, ActionRead)
		assert.True(t, d.Allowed)
		assert.Equal(t, "admin_read_all", d.MatchedRule)
	})

	t.Run("student cannot write grades", func(t *testing.T) {
		tc := newActor(t, tenantID, tenantctx.RoleStudent)
		d := engine.Evaluate(context.Background(), tc, grade, ActionCreate)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNoRule, d.Reason)
	})

	t.Run("system actor gets retention transitions only", func(t *testing.T) {
		sys := tenantctx.System(tenantID, "req-sweep", time.Now())
		assert.True(t, engine.Evaluate(context.Background(), sys, grade, ActionPurge).Allowed)
		assert.False(t, engine.Evaluate(context.Background(), sys, grade, ActionRead).Allowed)
	})
}

func TestEvaluate_RelationshipGate(t *testing.T) {
	tenantID := id.NewTenantID()
	subject := id.SubjectID(uuid.New())
	grade := ResourceDescriptor{Type: ResourceGrade, OwnerTenant: tenantID, SubjectID: subject}

	t.Run("denies closed when no predicate registered", func(t *testing.T) {
		engine := NewEngine()
		tc := newActor(t, tenantID, tenantctx.RoleTeacher)
		d := engine.Evaluate(context.Background(), tc, grade, ActionRead)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonRoleNoGrant, d.Reason)
	})

	t.Run("predicate outcome drives the reason", func(t *testing.T) {
		linked := false
		engine := NewEngine(WithRelationship(tenantctx.RoleTeacher, ResourceGrade,
			func(_ context.Context, _ tenantctx.Context, _ ResourceDescriptor) error {
				if linked {
					return nil
				}
				return pkgerrors.New(pkgerrors.CodeConsentRequired, "no link")
			}))
		tc := newActor(t, tenantID, tenantctx.RoleTeacher)

		d := engine.Evaluate(context.Background(), tc, grade, ActionRead)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonConsentMissing, d.Reason)

		linked = true
		d = engine.Evaluate(context.Background(), tc, grade, ActionRead)
		assert.True(t, d.Allowed)
	})

	t.Run("predicate infrastructure failure denies closed", func(t *testing.T) {
		engine := NewEngine(WithRelationship(tenantctx.RoleTeacher, ResourceGrade,
			func(_ context.Context, _ tenantctx.Context, _ ResourceDescriptor) error {
				return pkgerrors.New(pkgerrors.CodeInternal, "store down")
			}))
		tc := newActor(t, tenantID, tenantctx.RoleTeacher)
		d := engine.Evaluate(context.Background(), tc, grade, ActionRead)
		assert.False(t, d.Allowed)
	})
}

func TestEvaluate_StudentSelfAccess(t *testing.T) {
	engine := NewEngine(WithRelationship(tenantctx.RoleStudent, ResourceGrade, SelfSubject()))
	tenantID := id.NewTenantID()
	tc := newActor(t, tenantID, tenantctx.RoleStudent)

	own := ResourceDescriptor{Type: ResourceGrade, OwnerTenant: tenantID, SubjectID: id.SubjectID(tc.UserID)}
	other := ResourceDescriptor{Type: ResourceGrade, OwnerTenant: tenantID, SubjectID: id.SubjectID(uuid.New())}

	assert.True(t, engine.Evaluate(context.Background(), tc, own, ActionRead).Allowed)
	assert.False(t, engine.Evaluate(context.Background(), tc, other, ActionRead).Allowed)
}

func TestRowFilter(t *testing.T) {
	engine := NewEngine(WithRelationship(tenantctx.RoleStudent, ResourceGrade, SelfSubject()))
	tenantID := id.NewTenantID()
	tc := newActor(t, tenantID, tenantctx.RoleStudent)
	keep := engine.RowFilter(context.Background(), tc, ResourceGrade, ActionRead)

	rows := []ResourceDescriptor{
		{Type: ResourceGrade, OwnerTenant: tenantID, SubjectID: id.SubjectID(tc.UserID)},
		{Type: ResourceGrade, OwnerTenant: tenantID, SubjectID: id.SubjectID(uuid.New())},
		{Type: ResourceGrade, OwnerTenant: id.NewTenantID(), SubjectID: id.SubjectID(tc.UserID)},
	}
	var visible []ResourceDescriptor
	for _, row := range rows {
		if keep(row) {
			visible = append(visible, row)
		}
	}
	require.Len(t, visible, 1)
	assert.Equal(t, rows[0], visible[0])
}

func TestEvaluate_ConfiguredCapabilityOverride(t *testing.T) {
	engine := NewEngine(WithCapabilities([]Capability{
		{Role: tenantctx.RoleCounselor, ResourceType: ResourceAttendance, Action: ActionRead, Rule: "counselor_attendance_read"},
	}))
	tenantID := id.NewTenantID()
	tc := newActor(t, tenantID, tenantctx.RoleCounselor)
	resource := ResourceDescriptor{Type: ResourceAttendance, OwnerTenant: tenantID}

	d := engine.Evaluate(context.Background(), tc, resource, ActionRead)
	assert.True(t, d.Allowed)
	assert.Equal(t, "counselor_attendance_read", d.MatchedRule)
}

func TestDenialError(t *testing.T) {
	cases := []struct {
		reason Reason
		code   pkgerrors.Code
	}{
		{ReasonTenantMismatch, pkgerrors.CodeTenantMismatch},
		{ReasonConsentMissing, pkgerrors.CodeConsentRequired},
		{ReasonConsentExpired, pkgerrors.CodeConsentExpired},
		{ReasonRoleNoGrant, pkgerrors.CodeRoleInsufficient},
		{ReasonNoRule, pkgerrors.CodeRoleInsufficient},
	}
	for _, tt := range cases {
		err := DenialError(Decision{Reason: tt.reason})
		assert.True(t, pkgerrors.HasCode(err, tt.code), "reason %s", tt.reason)
	}
}
