//go:build integration

package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custos/internal/consent"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	"custos/pkg/testutil/containers"
)

type PostgresConsentSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *consent.PostgresStore
}

func TestPostgresConsentSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresConsentSuite))
}

func (s *PostgresConsentSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = consent.NewPostgres(s.postgres.DB)
}

func (s *PostgresConsentSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "consent_records"))
}

func (s *PostgresConsentSuite) record(tenantID id.TenantID, subjectID id.SubjectID, typ consent.Type) consent.Record {
	return consent.Record{
		SubjectID:    subjectID,
		TenantID:     tenantID,
		HolderID:     id.NewUserID(),
		Type:         typ,
		Status:       consent.StatusGranted,
		GrantedAt:    time.Now().UTC().Truncate(time.Microsecond),
		ExpiresAt:    time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Microsecond),
		Restrictions: []string{"grades_only"},
	}
}

func (s *PostgresConsentSuite) TestSaveAndList() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	subjectID := id.NewSubjectID()

	rec := s.record(tenantID, subjectID, consent.TypeGuardianDisclosure)
	s.Require().NoError(s.store.Save(ctx, rec))

	open := s.record(tenantID, subjectID, consent.TypeMedicalDisclosure)
	open.HolderID = id.UserID{}
	open.ExpiresAt = time.Time{}
	open.Restrictions = nil
	s.Require().NoError(s.store.Save(ctx, open))

	records, err := s.store.ListBySubject(ctx, tenantID, subjectID)
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	s.Equal(rec.HolderID, records[0].HolderID)
	s.True(rec.ExpiresAt.Equal(records[0].ExpiresAt))
	s.Equal([]string{"grades_only"}, records[0].Restrictions)

	s.True(records[1].HolderID.IsNil())
	s.True(records[1].ExpiresAt.IsZero())
	s.Nil(records[1].RevokedAt)
}

func (s *PostgresConsentSuite) TestListIsTenantScoped() {
	ctx := context.Background()
	subjectID := id.NewSubjectID()
	tenantA := id.NewTenantID()
	tenantB := id.NewTenantID()

	s.Require().NoError(s.store.Save(ctx, s.record(tenantA, subjectID, consent.TypeGuardianDisclosure)))

	records, err := s.store.ListBySubject(ctx, tenantB, subjectID)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *PostgresConsentSuite) TestRevokeFlipsGrantedOnly() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	subjectID := id.NewSubjectID()

	s.Require().NoError(s.store.Save(ctx, s.record(tenantID, subjectID, consent.TypeGuardianDisclosure)))

	revokedAt := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.Revoke(ctx, tenantID, subjectID, consent.TypeGuardianDisclosure, revokedAt))

	records, err := s.store.ListBySubject(ctx, tenantID, subjectID)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(consent.StatusRevoked, records[0].Status)
	s.Require().NotNil(records[0].RevokedAt)
	s.True(revokedAt.Equal(*records[0].RevokedAt))

	// Nothing granted remains.
	err = s.store.Revoke(ctx, tenantID, subjectID, consent.TypeGuardianDisclosure, time.Now().UTC())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresConsentSuite) TestMarkExpired() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	subjectID := id.NewSubjectID()

	s.Require().NoError(s.store.Save(ctx, s.record(tenantID, subjectID, consent.TypeGuardianDisclosure)))
	s.Require().NoError(s.store.MarkExpired(ctx, tenantID, subjectID, consent.TypeGuardianDisclosure))

	records, err := s.store.ListBySubject(ctx, tenantID, subjectID)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(consent.StatusExpired, records[0].Status)
}
