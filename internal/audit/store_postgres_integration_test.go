//go:build integration

package audit_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custos/internal/audit"
	"custos/internal/policy"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	"custos/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
	chain    *audit.Chain
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = audit.NewPostgres(s.postgres.DB)
	s.chain = audit.NewChain(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events", "chain_tips"))
}

func (s *PostgresStoreSuite) actor(tenantID id.TenantID) audit.Actor {
	return audit.Actor{
		TenantID:  tenantID,
		UserID:    id.NewUserID(),
		Role:      tenantctx.RoleAdmin,
		SessionID: id.NewSessionID(),
		RequestID: "req-1",
		IP:        "10.0.0.1",
		UserAgent: "integration-test",
	}
}

func (s *PostgresStoreSuite) draft(action string, tenantID id.TenantID) audit.Draft {
	return audit.Draft{
		Action: action,
		Resource: policy.ResourceDescriptor{
			Type:        policy.ResourceStudent,
			ID:          id.NewResourceID(),
			OwnerTenant: tenantID,
			SubjectID:   id.NewSubjectID(),
		},
		Decision: policy.Decision{Allowed: true, Reason: policy.ReasonAllowed, MatchedRule: "admin_read_all"},
	}
}

func (s *PostgresStoreSuite) TestAppendPersistsLinkage() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	actor := s.actor(tenantID)

	first, err := s.chain.Append(ctx, actor, s.draft("read", tenantID))
	s.Require().NoError(err)
	second, err := s.chain.Append(ctx, actor, s.draft("write", tenantID))
	s.Require().NoError(err)

	s.Equal(uint64(1), first.Seq)
	s.Equal(audit.GenesisHash, first.PrevHash)
	s.Equal(uint64(2), second.Seq)
	s.Equal(first.ThisHash, second.PrevHash)

	hash, seq, err := s.store.Tip(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(second.ThisHash, hash)
	s.Equal(uint64(2), seq)

	stored, err := s.store.Range(ctx, tenantID, 1, 2)
	s.Require().NoError(err)
	s.Require().Len(stored, 2)
	s.Equal(first.ThisHash, stored[0].ThisHash)
	s.Equal(actor.UserID, stored[0].Actor.UserID)
	s.Equal(tenantctx.RoleAdmin, stored[0].Actor.Role)
}

func (s *PostgresStoreSuite) TestTipForUnknownTenantIsGenesis() {
	hash, seq, err := s.store.Tip(context.Background(), id.NewTenantID())
	s.Require().NoError(err)
	s.Equal(audit.GenesisHash, hash)
	s.Zero(seq)
}

func (s *PostgresStoreSuite) TestDuplicateSeqIsRejected() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	event, err := s.chain.Append(ctx, s.actor(tenantID), s.draft("read", tenantID))
	s.Require().NoError(err)

	dup := event
	dup.ID = event.ID
	err = s.store.Append(ctx, dup)
	s.Error(err)
}

func (s *PostgresStoreSuite) TestVerifyOverPostgres() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	actor := s.actor(tenantID)
	for i := 0; i < 5; i++ {
		_, err := s.chain.Append(ctx, actor, s.draft("read", tenantID))
		s.Require().NoError(err)
	}

	result, err := s.chain.Verify(ctx, tenantID, 0, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(5, result.Checked)

	// Mutate a stored row directly; verification must catch it.
	_, err = s.postgres.DB.ExecContext(ctx,
		`UPDATE audit_events SET action = 'write' WHERE tenant_id = $1 AND seq = 3`, tenantID.String())
	s.Require().NoError(err)

	result, err = s.chain.Verify(ctx, tenantID, 0, 0)
	s.Require().NoError(err)
	s.False(result.Valid)
	s.Equal(uint64(3), result.BrokenSeq)
}

func (s *PostgresStoreSuite) TestQueryFilters() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	actor := s.actor(tenantID)

	_, err := s.chain.Append(ctx, actor, s.draft("read", tenantID))
	s.Require().NoError(err)
	_, err = s.chain.Append(ctx, actor, s.draft("write", tenantID))
	s.Require().NoError(err)
	denied := s.draft("read", tenantID)
	denied.Decision = policy.Decision{Allowed: false, Reason: policy.ReasonRoleNoGrant}
	_, err = s.chain.Append(ctx, actor, denied)
	s.Require().NoError(err)

	reads, err := s.store.Query(ctx, tenantID, audit.Filter{Action: "read"})
	s.Require().NoError(err)
	s.Len(reads, 2)

	deniedOnly, err := s.store.Query(ctx, tenantID, audit.Filter{DeniedOnly: true})
	s.Require().NoError(err)
	s.Require().Len(deniedOnly, 1)
	s.Equal(uint64(3), deniedOnly[0].Seq)

	cursor, err := s.store.Query(ctx, tenantID, audit.Filter{AfterSeq: 1, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(cursor, 1)
	s.Equal(uint64(2), cursor[0].Seq)

	old, err := s.store.Query(ctx, tenantID, audit.Filter{To: time.Now().Add(-time.Hour)})
	s.Require().NoError(err)
	s.Empty(old)
}

func (s *PostgresStoreSuite) TestTenantsAreIsolated() {
	ctx := context.Background()
	tenantA := id.NewTenantID()
	tenantB := id.NewTenantID()

	_, err := s.chain.Append(ctx, s.actor(tenantA), s.draft("read", tenantA))
	s.Require().NoError(err)
	_, err = s.chain.Append(ctx, s.actor(tenantB), s.draft("read", tenantB))
	s.Require().NoError(err)

	events, err := s.store.Query(ctx, tenantA, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(tenantA, events[0].TenantID)
	s.Equal(uint64(1), events[0].Seq)
}
