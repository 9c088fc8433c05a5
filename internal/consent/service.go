package consent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"custos/internal/audit"
	"custos/internal/policy"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/requestcontext"
)

// Authorizer is the slice of the policy engine the service needs.
type Authorizer interface {
	Evaluate(ctx context.Context, tc tenantctx.Context, resource policy.ResourceDescriptor, action policy.Action) policy.Decision
}

// Recorder is the slice of the audit chain the service needs.
type Recorder interface {
	Append(ctx context.Context, actor audit.Actor, draft audit.Draft) (audit.Event, error)
}

// RevocationObserver is notified after a consent revocation commits. The
// retention manager registers here to drive immediate purges.
type RevocationObserver interface {
	ConsentRevoked(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ Type)
}

// DataClass tags consent operations in the audit chain.
const DataClass = "consent"

// Service manages consent records. Every mutation goes through the policy
// engine first and the audit chain after; a failed audit append aborts the
// mutation's result.
type Service struct {
	store     Store
	engine    Authorizer
	chain     Recorder
	logger    *slog.Logger
	observers []RevocationObserver
}

func NewService(store Store, engine Authorizer, chain Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, engine: engine, chain: chain, logger: logger}
}

// Observe registers a revocation observer. Not safe to call after the
// service is serving requests.
func (s *Service) Observe(observer RevocationObserver) {
	s.observers = append(s.observers, observer)
}

func (s *Service) resource(tc tenantctx.Context, subjectID id.SubjectID) policy.ResourceDescriptor {
	return policy.ResourceDescriptor{
		Type:        policy.ResourceConsent,
		OwnerTenant: tc.TenantID,
		SubjectID:   subjectID,
	}
}

// Grant records a granted consent. A zero ttl means no expiry.
func (s *Service) Grant(ctx context.Context, tc tenantctx.Context, subjectID id.SubjectID, holderID id.UserID, typ Type, ttl time.Duration, restrictions []string) (Record, error) {
	if subjectID.IsNil() {
		return Record{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "subject id is required")
	}
	resource := s.resource(tc, subjectID)
	decision := s.engine.Evaluate(ctx, tc, resource, policy.ActionCreate)
	if !decision.Allowed {
		return Record{}, s.denied(ctx, tc, "consent_granted", resource, decision)
	}

	now := requestcontext.Now(ctx)
	record := Record{
		SubjectID:    subjectID,
		TenantID:     tc.TenantID,
		HolderID:     holderID,
		Type:         typ,
		Status:       StatusGranted,
		GrantedAt:    now,
		Restrictions: restrictions,
	}
	if ttl > 0 {
		record.ExpiresAt = now.Add(ttl)
	}
	if err := s.store.Save(ctx, record); err != nil {
		return Record{}, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "save consent", err)
	}
	if _, err := s.chain.Append(ctx, audit.Snapshot(tc), audit.Draft{
		Action:    "consent_granted",
		Resource:  resource,
		Decision:  decision,
		DataClass: DataClass,
	}); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Revoke revokes all granted records of one type for the subject and notifies
// observers. Revoking absent consent is not an error to the caller beyond a
// not-found result.
func (s *Service) Revoke(ctx context.Context, tc tenantctx.Context, subjectID id.SubjectID, typ Type) error {
	resource := s.resource(tc, subjectID)
	decision := s.engine.Evaluate(ctx, tc, resource, policy.ActionDelete)
	if !decision.Allowed {
		return s.denied(ctx, tc, "consent_revoked", resource, decision)
	}

	err := s.store.Revoke(ctx, tc.TenantID, subjectID, typ, requestcontext.Now(ctx))
	if errors.Is(err, sentinel.ErrNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no granted consent to revoke")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "revoke consent", err)
	}
	if _, err := s.chain.Append(ctx, audit.Snapshot(tc), audit.Draft{
		Action:    "consent_revoked",
		Resource:  resource,
		Decision:  decision,
		DataClass: DataClass,
	}); err != nil {
		return err
	}
	for _, observer := range s.observers {
		observer.ConsentRevoked(ctx, tc.TenantID, subjectID, typ)
	}
	return nil
}

// List returns the subject's consent records, policy-checked as a read.
func (s *Service) List(ctx context.Context, tc tenantctx.Context, subjectID id.SubjectID) ([]Record, error) {
	resource := s.resource(tc, subjectID)
	decision := s.engine.Evaluate(ctx, tc, resource, policy.ActionRead)
	if !decision.Allowed {
		return nil, s.denied(ctx, tc, "consent_listed", resource, decision)
	}
	records, err := s.store.ListBySubject(ctx, tc.TenantID, subjectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "list consent", err)
	}
	return records, nil
}

// denied audits the denial and returns the matching coded error. Denied
// attempts are chained like any other privileged action so attempted
// breaches stay forensically visible.
func (s *Service) denied(ctx context.Context, tc tenantctx.Context, action string, resource policy.ResourceDescriptor, decision policy.Decision) error {
	if _, err := s.chain.Append(ctx, audit.Snapshot(tc), audit.Draft{
		Action:    action,
		Resource:  resource,
		Decision:  decision,
		DataClass: DataClass,
	}); err != nil {
		return err
	}
	return policy.DenialError(decision)
}
