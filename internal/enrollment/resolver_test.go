package enrollment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/policy"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
)

func teacherContext(t *testing.T, tenantID id.TenantID, staffID id.UserID) tenantctx.Context {
	t.Helper()
	tc, err := tenantctx.Begin(tenantID, staffID, tenantctx.RoleTeacher, id.NewSessionID(), "req-1", "10.0.0.1", "test", time.Now())
	require.NoError(t, err)
	return tc
}

func TestPredicate(t *testing.T) {
	store := NewInMemoryStore()
	pred := NewResolver(store).Predicate()

	tenantID := id.NewTenantID()
	staffID := id.NewUserID()
	subjectID := id.NewSubjectID()
	teacher := teacherContext(t, tenantID, staffID)
	resource := policy.ResourceDescriptor{Type: policy.ResourceGrade, OwnerTenant: tenantID, SubjectID: subjectID}

	t.Run("unlinked subject denies", func(t *testing.T) {
		err := pred(context.Background(), teacher, resource)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRoleInsufficient))
	})

	t.Run("linked subject passes", func(t *testing.T) {
		require.NoError(t, store.Add(context.Background(), Link{
			TenantID:  tenantID,
			StaffID:   staffID,
			ClassID:   id.NewResourceID(),
			SubjectID: subjectID,
			CreatedAt: time.Now(),
		}))
		assert.NoError(t, pred(context.Background(), teacher, resource))
	})

	t.Run("removal revokes access", func(t *testing.T) {
		require.NoError(t, store.Remove(context.Background(), tenantID, staffID, subjectID))
		err := pred(context.Background(), teacher, resource)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRoleInsufficient))
	})

	t.Run("record without subject denies", func(t *testing.T) {
		err := pred(context.Background(), teacher, policy.ResourceDescriptor{Type: policy.ResourceGrade, OwnerTenant: tenantID})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRoleInsufficient))
	})

	t.Run("store failure denies closed", func(t *testing.T) {
		failing := NewResolver(brokenStore{}).Predicate()
		err := failing(context.Background(), teacher, resource)
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInternal))
	})
}

type brokenStore struct{}

func (brokenStore) Add(context.Context, Link) error { return errors.New("down") }
func (brokenStore) Remove(context.Context, id.TenantID, id.UserID, id.SubjectID) error {
	return errors.New("down")
}
func (brokenStore) Linked(context.Context, id.TenantID, id.UserID, id.SubjectID) (bool, error) {
	return false, errors.New("down")
}
