package consent

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/audit"
	"custos/internal/policy"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

type consentFixture struct {
	svc        *Service
	store      *InMemoryStore
	auditStore *audit.InMemoryStore
	tenantID   id.TenantID
	admin      tenantctx.Context
}

func newConsentFixture(t *testing.T) *consentFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	chain := audit.NewChain(auditStore, logger)

	tenantID := id.NewTenantID()
	admin, err := tenantctx.Begin(tenantID, id.NewUserID(), tenantctx.RoleAdmin, id.NewSessionID(), "req-1", "10.0.0.1", "test", time.Now())
	require.NoError(t, err)

	return &consentFixture{
		svc:        NewService(store, policy.NewEngine(), chain, logger),
		store:      store,
		auditStore: auditStore,
		tenantID:   tenantID,
		admin:      admin,
	}
}

func TestGrant(t *testing.T) {
	t.Run("stores and audits the grant", func(t *testing.T) {
		f := newConsentFixture(t)
		subjectID := id.NewSubjectID()
		holderID := id.NewUserID()

		now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		ctx := requestcontext.WithTime(context.Background(), now)
		record, err := f.svc.Grant(ctx, f.admin, subjectID, holderID, TypeGuardianDisclosure, 30*24*time.Hour, []string{"grades_only"})
		require.NoError(t, err)
		assert.Equal(t, StatusGranted, record.Status)
		assert.Equal(t, now, record.GrantedAt)
		assert.Equal(t, now.Add(30*24*time.Hour), record.ExpiresAt)
		assert.Equal(t, []string{"grades_only"}, record.Restrictions)

		stored, err := f.store.ListBySubject(ctx, f.tenantID, subjectID)
		require.NoError(t, err)
		require.Len(t, stored, 1)

		events, err := f.auditStore.Query(ctx, f.tenantID, audit.Filter{Action: "consent_granted"})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("zero ttl means no expiry", func(t *testing.T) {
		f := newConsentFixture(t)
		record, err := f.svc.Grant(context.Background(), f.admin, id.NewSubjectID(), id.NewUserID(), TypeDirectoryInfo, 0, nil)
		require.NoError(t, err)
		assert.True(t, record.ExpiresAt.IsZero())
		assert.True(t, record.ActiveAt(time.Now().Add(100*365*24*time.Hour)))
	})

	t.Run("requires a subject", func(t *testing.T) {
		f := newConsentFixture(t)
		_, err := f.svc.Grant(context.Background(), f.admin, id.SubjectID{}, id.NewUserID(), TypeGuardianDisclosure, 0, nil)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
	})

	t.Run("denies roles without a consent grant and audits it", func(t *testing.T) {
		f := newConsentFixture(t)
		student, err := tenantctx.Begin(f.tenantID, id.NewUserID(), tenantctx.RoleStudent, id.NewSessionID(), "req-2", "10.0.0.2", "test", time.Now())
		require.NoError(t, err)

		_, err = f.svc.Grant(context.Background(), student, id.NewSubjectID(), id.NewUserID(), TypeGuardianDisclosure, 0, nil)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRoleInsufficient))

		events, err := f.auditStore.Query(context.Background(), f.tenantID, audit.Filter{DeniedOnly: true})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestRevoke(t *testing.T) {
	t.Run("revokes and notifies observers", func(t *testing.T) {
		f := newConsentFixture(t)
		subjectID := id.NewSubjectID()
		observer := &recordingObserver{}
		f.svc.Observe(observer)

		_, err := f.svc.Grant(context.Background(), f.admin, subjectID, id.NewUserID(), TypeMedicalDisclosure, 0, nil)
		require.NoError(t, err)

		require.NoError(t, f.svc.Revoke(context.Background(), f.admin, subjectID, TypeMedicalDisclosure))

		stored, err := f.store.ListBySubject(context.Background(), f.tenantID, subjectID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, StatusRevoked, stored[0].Status)
		assert.NotNil(t, stored[0].RevokedAt)

		require.Len(t, observer.revoked, 1)
		assert.Equal(t, subjectID, observer.revoked[0].subjectID)
		assert.Equal(t, TypeMedicalDisclosure, observer.revoked[0].typ)
	})

	t.Run("revoking absent consent is not found", func(t *testing.T) {
		f := newConsentFixture(t)
		err := f.svc.Revoke(context.Background(), f.admin, id.NewSubjectID(), TypeMedicalDisclosure)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	})
}

type revocation struct {
	tenantID  id.TenantID
	subjectID id.SubjectID
	typ       Type
}

type recordingObserver struct {
	revoked []revocation
}

func (o *recordingObserver) ConsentRevoked(_ context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type) {
	o.revoked = append(o.revoked, revocation{tenantID, subjectID, typ})
}

func TestList(t *testing.T) {
	f := newConsentFixture(t)
	subjectID := id.NewSubjectID()
	_, err := f.svc.Grant(context.Background(), f.admin, subjectID, id.NewUserID(), TypeGuardianDisclosure, 0, nil)
	require.NoError(t, err)
	_, err = f.svc.Grant(context.Background(), f.admin, subjectID, id.NewUserID(), TypeDirectoryInfo, 0, nil)
	require.NoError(t, err)

	records, err := f.svc.List(context.Background(), f.admin, subjectID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestResolverPredicate(t *testing.T) {
	f := newConsentFixture(t)
	resolver := NewResolver(f.store)
	pred := resolver.Predicate(TypeGuardianDisclosure)

	subjectID := id.NewSubjectID()
	parentID := id.NewUserID()
	parent, err := tenantctx.Begin(f.tenantID, parentID, tenantctx.RoleParent, id.NewSessionID(), "req-2", "10.0.0.2", "test", time.Now())
	require.NoError(t, err)
	resource := policy.ResourceDescriptor{Type: policy.ResourceGrade, OwnerTenant: f.tenantID, SubjectID: subjectID}

	t.Run("absent consent is consent_required", func(t *testing.T) {
		err := pred(context.Background(), parent, resource)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConsentRequired))
	})

	t.Run("record without subject is consent_required", func(t *testing.T) {
		err := pred(context.Background(), parent, policy.ResourceDescriptor{Type: policy.ResourceGrade, OwnerTenant: f.tenantID})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConsentRequired))
	})

	t.Run("active grant for the holder passes", func(t *testing.T) {
		_, err := f.svc.Grant(context.Background(), f.admin, subjectID, parentID, TypeGuardianDisclosure, time.Hour, nil)
		require.NoError(t, err)
		assert.NoError(t, pred(context.Background(), parent, resource))
	})

	t.Run("grant scoped to another holder does not cover", func(t *testing.T) {
		stranger, err := tenantctx.Begin(f.tenantID, id.NewUserID(), tenantctx.RoleParent, id.NewSessionID(), "req-3", "10.0.0.3", "test", time.Now())
		require.NoError(t, err)
		err = pred(context.Background(), stranger, resource)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConsentRequired))
	})

	t.Run("lapsed grant is consent_expired", func(t *testing.T) {
		lapsed := requestcontext.WithTime(context.Background(), time.Now().Add(2*time.Hour))
		err := pred(lapsed, parent, resource)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConsentExpired))
	})

	t.Run("regrant after expiry passes again", func(t *testing.T) {
		_, err := f.svc.Grant(context.Background(), f.admin, subjectID, parentID, TypeGuardianDisclosure, 3*time.Hour, nil)
		require.NoError(t, err)
		later := requestcontext.WithTime(context.Background(), time.Now().Add(2*time.Hour))
		assert.NoError(t, pred(later, parent, resource))
	})

	t.Run("revoked grant is consent_required", func(t *testing.T) {
		require.NoError(t, f.svc.Revoke(context.Background(), f.admin, subjectID, TypeGuardianDisclosure))
		err := pred(context.Background(), parent, resource)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConsentRequired))
	})
}

// Full path through the engine: a parent's read of their child's grade is
// allowed only while guardian consent is active.
func TestParentAccessThroughEngine(t *testing.T) {
	f := newConsentFixture(t)
	resolver := NewResolver(f.store)
	engine := policy.NewEngine(
		policy.WithRelationship(tenantctx.RoleParent, policy.ResourceGrade, resolver.Predicate(TypeGuardianDisclosure)),
	)

	subjectID := id.NewSubjectID()
	parentID := id.NewUserID()
	parent, err := tenantctx.Begin(f.tenantID, parentID, tenantctx.RoleParent, id.NewSessionID(), "req-2", "10.0.0.2", "test", time.Now())
	require.NoError(t, err)
	grade := policy.ResourceDescriptor{Type: policy.ResourceGrade, OwnerTenant: f.tenantID, SubjectID: subjectID}

	d := engine.Evaluate(context.Background(), parent, grade, policy.ActionRead)
	assert.False(t, d.Allowed)
	assert.Equal(t, policy.ReasonConsentMissing, d.Reason)

	_, err = f.svc.Grant(context.Background(), f.admin, subjectID, parentID, TypeGuardianDisclosure, time.Hour, nil)
	require.NoError(t, err)

	d = engine.Evaluate(context.Background(), parent, grade, policy.ActionRead)
	assert.True(t, d.Allowed)
	assert.Equal(t, "parent_grade_read", d.MatchedRule)

	expired := requestcontext.WithTime(context.Background(), time.Now().Add(2*time.Hour))
	d = engine.Evaluate(expired, parent, grade, policy.ActionRead)
	assert.False(t, d.Allowed)
	assert.Equal(t, policy.ReasonConsentExpired, d.Reason)
}
