package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/audit"
	"custos/internal/consent"
	"custos/internal/policy"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
)

type managerFixture struct {
	mgr        *Manager
	policies   *InMemoryPolicyStore
	records    *InMemoryRecordStore
	auditStore *audit.InMemoryStore
	scrubber   *stubScrubber
	tenantID   id.TenantID
	admin      tenantctx.Context
}

type stubScrubber struct {
	scrubbed []string
}

func (s *stubScrubber) Scrub(_ context.Context, token string, _ time.Time) error {
	s.scrubbed = append(s.scrubbed, token)
	return nil
}

type deniedLock struct{}

func (deniedLock) Acquire(context.Context) (func(context.Context), bool, error) {
	return nil, false, nil
}

func newManagerFixture(t *testing.T, opts ...ManagerOption) *managerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policies := NewInMemoryPolicyStore()
	records := NewInMemoryRecordStore()
	auditStore := audit.NewInMemoryStore()
	chain := audit.NewChain(auditStore, logger)
	scrubber := &stubScrubber{}

	tenantID := id.NewTenantID()
	admin, err := tenantctx.Begin(tenantID, id.NewUserID(), tenantctx.RoleAdmin, id.NewSessionID(), "req-1", "10.0.0.1", "test", time.Now())
	require.NoError(t, err)

	opts = append([]ManagerOption{WithVault(scrubber)}, opts...)
	return &managerFixture{
		mgr:        NewManager(policies, records, policy.NewEngine(), chain, logger, opts...),
		policies:   policies,
		records:    records,
		auditStore: auditStore,
		scrubber:   scrubber,
		tenantID:   tenantID,
		admin:      admin,
	}
}

func (f *managerFixture) registerRecord(t *testing.T, dataClass string, age time.Duration, tokens ...string) DataRecord {
	t.Helper()
	rec := DataRecord{
		ID:           id.NewResourceID(),
		SubjectID:    id.NewSubjectID(),
		ResourceType: "student",
		DataClass:    dataClass,
		Tokens:       tokens,
		CreatedAt:    time.Now().Add(-age),
	}
	require.NoError(t, f.mgr.Register(context.Background(), f.admin, rec))
	return rec
}

func TestConfigurePolicy(t *testing.T) {
	t.Run("rejects invalid input", func(t *testing.T) {
		f := newManagerFixture(t)
		cases := []Policy{
			{DataClass: "", RetentionPeriod: time.Hour, ActionOnExpiry: ActionArchive},
			{DataClass: "grades", RetentionPeriod: 0, ActionOnExpiry: ActionArchive},
			{DataClass: "grades", RetentionPeriod: time.Hour, ActionOnExpiry: Action("shred")},
		}
		for _, p := range cases {
			err := f.mgr.ConfigurePolicy(context.Background(), f.admin, p)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput), "policy %+v", p)
		}
	})

	t.Run("denies non-admin and audits the denial", func(t *testing.T) {
		f := newManagerFixture(t)
		teacher, err := tenantctx.Begin(f.tenantID, id.NewUserID(), tenantctx.RoleTeacher, id.NewSessionID(), "req-2", "10.0.0.2", "test", time.Now())
		require.NoError(t, err)

		err = f.mgr.ConfigurePolicy(context.Background(), teacher, Policy{
			DataClass: "grades", RetentionPeriod: time.Hour, ActionOnExpiry: ActionArchive,
		})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRoleInsufficient))

		events, err := f.auditStore.Query(context.Background(), f.tenantID, audit.Filter{DeniedOnly: true})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "retention_policy_configured", events[0].Action)
	})

	t.Run("stores the tenant-scoped policy", func(t *testing.T) {
		f := newManagerFixture(t)
		require.NoError(t, f.mgr.ConfigurePolicy(context.Background(), f.admin, Policy{
			DataClass: "grades", RetentionPeriod: 30 * 24 * time.Hour, ActionOnExpiry: ActionArchive,
		}))

		stored, err := f.mgr.Policies(context.Background(), f.admin)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, f.tenantID, stored[0].TenantID)
		assert.Equal(t, "grades", stored[0].DataClass)
	})
}

func TestRunSweep_TransitionsDueRecords(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.mgr.ConfigurePolicy(context.Background(), f.admin, Policy{
		DataClass: "grades", RetentionPeriod: 30 * 24 * time.Hour, ActionOnExpiry: ActionArchive,
	}))

	old := f.registerRecord(t, "grades", 60*24*time.Hour)
	fresh := f.registerRecord(t, "grades", 24*time.Hour)

	report, err := f.mgr.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 1, report.Transitions())

	got, err := f.records.Get(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, StateArchived, got.State)

	got, err = f.records.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)

	// The transition is on the chain, attributed to the system actor.
	events, err := f.auditStore.Query(context.Background(), f.tenantID, audit.Filter{Action: "record_archived"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, tenantctx.RoleSystem, events[0].Actor.Role)
	assert.True(t, events[0].Allowed)
}

func TestRunSweep_SecondRunIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.mgr.ConfigurePolicy(context.Background(), f.admin, Policy{
		DataClass: "grades", RetentionPeriod: time.Hour, ActionOnExpiry: ActionArchive,
	}))
	f.registerRecord(t, "grades", 48*time.Hour)

	first, err := f.mgr.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Archived)

	second, err := f.mgr.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Examined)
	assert.Zero(t, second.Transitions())
}

func TestRunSweep_PurgeScrubsVaultTokens(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.mgr.ConfigurePolicy(context.Background(), f.admin, Policy{
		DataClass: "medical", RetentionPeriod: time.Hour, ActionOnExpiry: ActionPurge,
	}))
	f.registerRecord(t, "medical", 48*time.Hour, "tok_aaaa", "tok_bbbb")

	report, err := f.mgr.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)
	assert.ElementsMatch(t, []string{"tok_aaaa", "tok_bbbb"}, f.scrubber.scrubbed)
}

func TestRunSweep_SkipsWhenLockHeldElsewhere(t *testing.T) {
	f := newManagerFixture(t, WithLock(deniedLock{}))
	require.NoError(t, f.mgr.ConfigurePolicy(context.Background(), f.admin, Policy{
		DataClass: "grades", RetentionPeriod: time.Hour, ActionOnExpiry: ActionArchive,
	}))
	rec := f.registerRecord(t, "grades", 48*time.Hour)

	report, err := f.mgr.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Examined)

	got, err := f.records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}

// A record whose audit append fails must keep its state: the purge path
// records first and transitions second.
func TestRunSweep_AuditFailureLeavesRecordUntouched(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policies := NewInMemoryPolicyStore()
	records := NewInMemoryRecordStore()
	chain := audit.NewChain(&brokenAuditStore{}, logger)

	tenantID := id.NewTenantID()
	mgr := NewManager(policies, records, policy.NewEngine(), chain, logger)

	require.NoError(t, policies.Upsert(context.Background(), Policy{
		TenantID: tenantID, DataClass: "grades", RetentionPeriod: time.Hour, ActionOnExpiry: ActionPurge,
	}))
	rec := DataRecord{
		ID:           id.NewResourceID(),
		TenantID:     tenantID,
		SubjectID:    id.NewSubjectID(),
		ResourceType: "student",
		DataClass:    "grades",
		State:        StateActive,
		CreatedAt:    time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, records.Register(context.Background(), rec))

	report, err := mgr.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Purged)

	got, err := records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}

type brokenAuditStore struct {
	audit.InMemoryStore
}

func (s *brokenAuditStore) Append(context.Context, audit.Event) error {
	return context.DeadlineExceeded
}

func (s *brokenAuditStore) Tip(_ context.Context, _ id.TenantID) (string, uint64, error) {
	return audit.GenesisHash, 0, nil
}

func TestConsentRevoked_PurgesGatedClassesImmediately(t *testing.T) {
	f := newManagerFixture(t)
	subjectID := id.NewSubjectID()

	medical := DataRecord{
		ID:           id.NewResourceID(),
		SubjectID:    subjectID,
		ResourceType: "medical_record",
		DataClass:    "medical",
		Tokens:       []string{"tok_med"},
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.mgr.Register(context.Background(), f.admin, medical))

	grades := DataRecord{
		ID:           id.NewResourceID(),
		SubjectID:    subjectID,
		ResourceType: "grade",
		DataClass:    "grades",
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.mgr.Register(context.Background(), f.admin, grades))

	f.mgr.ConsentRevoked(context.Background(), f.tenantID, subjectID, consent.TypeMedicalDisclosure)

	got, err := f.records.Get(context.Background(), medical.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePurged, got.State)
	assert.Equal(t, []string{"tok_med"}, f.scrubber.scrubbed)

	got, err = f.records.Get(context.Background(), grades.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)

	// Revoking again finds nothing left to purge.
	f.mgr.ConsentRevoked(context.Background(), f.tenantID, subjectID, consent.TypeMedicalDisclosure)
	assert.Len(t, f.scrubber.scrubbed, 1)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateActive, StateArchived))
	assert.True(t, CanTransition(StateActive, StatePurged))
	assert.True(t, CanTransition(StateArchived, StateAnonymized))
	assert.True(t, CanTransition(StateAnonymized, StatePurged))

	assert.False(t, CanTransition(StateArchived, StateActive))
	assert.False(t, CanTransition(StatePurged, StateArchived))
	assert.False(t, CanTransition(StateActive, StateActive))
}
