package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custos/internal/audit"
	"custos/internal/consent"
	"custos/internal/policy"
	retentionmetrics "custos/internal/retention/metrics"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/requestcontext"
)

// Authorizer is the slice of the policy engine the manager needs.
type Authorizer interface {
	Evaluate(ctx context.Context, tc tenantctx.Context, resource policy.ResourceDescriptor, action policy.Action) policy.Decision
}

// Recorder is the slice of the audit chain the manager needs.
type Recorder interface {
	Append(ctx context.Context, actor audit.Actor, draft audit.Draft) (audit.Event, error)
}

// VaultScrubber removes recoverable ciphertext for a token. Satisfied by the
// vault entry stores.
type VaultScrubber interface {
	Scrub(ctx context.Context, token string, at time.Time) error
}

// dueBatchSize bounds how many records one sweep pass loads per policy. A
// backlog larger than this drains over consecutive sweeps.
const dueBatchSize = 500

// Manager owns retention policies and drives the record lifecycle. Sweeps
// run as the System actor and go through the policy engine and audit chain
// like any other caller.
type Manager struct {
	policies PolicyStore
	records  RecordStore
	engine   Authorizer
	chain    Recorder
	vault    VaultScrubber
	lock     SweepLock
	logger   *slog.Logger
	metrics  *retentionmetrics.Metrics
	tracer   trace.Tracer

	// revocationClasses maps a consent type to the data classes whose
	// records must purge immediately when that consent is revoked.
	revocationClasses map[consent.Type][]string
}

type ManagerOption func(*Manager)

func WithLock(lock SweepLock) ManagerOption {
	return func(m *Manager) { m.lock = lock }
}

func WithVault(vault VaultScrubber) ManagerOption {
	return func(m *Manager) { m.vault = vault }
}

func WithMetrics(metrics *retentionmetrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRevocationClasses overrides the consent-type to data-class mapping
// used for revocation-driven purges.
func WithRevocationClasses(classes map[consent.Type][]string) ManagerOption {
	return func(m *Manager) { m.revocationClasses = classes }
}

func NewManager(policies PolicyStore, records RecordStore, engine Authorizer, chain Recorder, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		policies: policies,
		records:  records,
		engine:   engine,
		chain:    chain,
		lock:     LocalSweepLock{},
		logger:   logger,
		tracer:   otel.Tracer("custos/retention"),
		revocationClasses: map[consent.Type][]string{
			consent.TypeMedicalDisclosure: {"medical"},
			consent.TypeDirectoryInfo:     {"directory"},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConfigurePolicy installs or replaces a tenant's retention rule for a data
// class.
func (m *Manager) ConfigurePolicy(ctx context.Context, tc tenantctx.Context, p Policy) error {
	if p.DataClass == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "data class is required")
	}
	if p.RetentionPeriod <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "retention period must be positive")
	}
	if _, ok := p.ActionOnExpiry.TargetState(); !ok {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "unknown expiry action")
	}
	p.TenantID = tc.TenantID
	p.UpdatedAt = requestcontext.Now(ctx)

	resource := policy.ResourceDescriptor{Type: "retention_policy", OwnerTenant: tc.TenantID}
	decision := m.engine.Evaluate(ctx, tc, resource, policy.ActionUpdate)
	if !decision.Allowed {
		if err := m.audit(ctx, tc, "retention_policy_configured", resource, decision, "retention"); err != nil {
			return err
		}
		return policy.DenialError(decision)
	}
	if err := m.policies.Upsert(ctx, p); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "store retention policy", err)
	}
	return m.audit(ctx, tc, "retention_policy_configured", resource, decision, "retention")
}

// Policies lists the caller's tenant policies.
func (m *Manager) Policies(ctx context.Context, tc tenantctx.Context) ([]Policy, error) {
	resource := policy.ResourceDescriptor{Type: "retention_policy", OwnerTenant: tc.TenantID}
	decision := m.engine.Evaluate(ctx, tc, resource, policy.ActionRead)
	if !decision.Allowed {
		return nil, policy.DenialError(decision)
	}
	policies, err := m.policies.ByTenant(ctx, tc.TenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "list retention policies", err)
	}
	return policies, nil
}

// Register adds a record to the lifecycle ledger in StateActive.
func (m *Manager) Register(ctx context.Context, tc tenantctx.Context, rec DataRecord) error {
	resource := policy.ResourceDescriptor{Type: rec.ResourceType, ID: rec.ID, OwnerTenant: tc.TenantID, SubjectID: rec.SubjectID}
	decision := m.engine.Evaluate(ctx, tc, resource, policy.ActionCreate)
	if !decision.Allowed {
		return policy.DenialError(decision)
	}
	rec.TenantID = tc.TenantID
	rec.State = StateActive
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = requestcontext.Now(ctx)
	}
	rec.StateChangedAt = rec.CreatedAt
	if err := m.records.Register(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return pkgerrors.New(pkgerrors.CodeInvalidInput, "record already registered")
		}
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "register record", err)
	}
	return nil
}

// RunSweep executes one full sweep across all tenants. It is a no-op
// returning a zero report when another instance holds the sweep lock.
// Failures on individual records are logged and counted, never fatal.
func (m *Manager) RunSweep(ctx context.Context) (SweepReport, error) {
	ctx, span := m.tracer.Start(ctx, "retention.RunSweep")
	defer span.End()

	release, ok, err := m.lock.Acquire(ctx)
	if err != nil {
		return SweepReport{}, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "acquire sweep lock", err)
	}
	if !ok {
		m.logger.DebugContext(ctx, "sweep lock held elsewhere; skipping run")
		return SweepReport{}, nil
	}
	defer release(ctx)

	now := requestcontext.Now(ctx)
	report := SweepReport{StartedAt: now}

	policies, err := m.policies.All(ctx)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load retention policies", err)
	}
	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = requestcontext.Now(ctx)
			return report, pkgerrors.Wrap(pkgerrors.CodeTimeout, "sweep cancelled", err)
		}
		m.sweepPolicy(ctx, p, now, &report)
	}

	report.FinishedAt = requestcontext.Now(ctx)
	if m.metrics != nil {
		m.metrics.SweepsTotal.Inc()
		m.metrics.SweepDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}
	m.logger.InfoContext(ctx, "retention sweep finished",
		"examined", report.Examined,
		"archived", report.Archived,
		"anonymized", report.Anonymized,
		"purged", report.Purged,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

func (m *Manager) sweepPolicy(ctx context.Context, p Policy, now time.Time, report *SweepReport) {
	target, ok := p.ActionOnExpiry.TargetState()
	if !ok {
		m.logger.WarnContext(ctx, "retention policy has unknown action",
			"tenant_id", p.TenantID.String(), "data_class", p.DataClass, "action", string(p.ActionOnExpiry))
		return
	}
	due, err := m.records.Due(ctx, p, now, dueBatchSize)
	if err != nil {
		m.logger.ErrorContext(ctx, "load due records failed",
			"tenant_id", p.TenantID.String(), "data_class", p.DataClass, "error", err)
		report.Failed++
		return
	}

	sys := tenantctx.System(p.TenantID, "sweep-"+now.UTC().Format(time.RFC3339), now)
	for _, rec := range due {
		report.Examined++
		switch err := m.transition(ctx, sys, rec, target, now); {
		case err == nil:
			report.count(target)
		case errors.Is(err, sentinel.ErrInvalidState):
			// Another run already moved it.
			report.Skipped++
		default:
			report.Failed++
			m.logger.ErrorContext(ctx, "record transition failed",
				"tenant_id", rec.TenantID.String(),
				"record_id", rec.ID.String(),
				"to_state", string(target),
				"error", err)
		}
	}
}

// ConsentRevoked implements the consent revocation observer: records in the
// data classes gated by the revoked consent type purge immediately,
// regardless of their retention schedule.
func (m *Manager) ConsentRevoked(ctx context.Context, tenantID id.TenantID, subjectID id.SubjectID, typ consent.Type) {
	classes := m.revocationClasses[typ]
	if len(classes) == 0 {
		return
	}
	records, err := m.records.BySubject(ctx, tenantID, subjectID, classes)
	if err != nil {
		m.logger.ErrorContext(ctx, "load subject records for revocation purge failed",
			"tenant_id", tenantID.String(), "subject_id", subjectID.String(), "error", err)
		return
	}
	now := requestcontext.Now(ctx)
	sys := tenantctx.System(tenantID, "consent-revocation-"+now.UTC().Format(time.RFC3339), now)
	for _, rec := range records {
		if rec.State == StatePurged {
			continue
		}
		if err := m.transition(ctx, sys, rec, StatePurged, now); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
			m.logger.ErrorContext(ctx, "revocation purge failed",
				"tenant_id", rec.TenantID.String(),
				"record_id", rec.ID.String(),
				"error", err)
		}
	}
}

// transition commits one lifecycle step: policy check, audit append, state
// change, then vault scrub for states that remove recoverable content. The
// audit entry precedes the state change so a purge can never happen
// unrecorded; a crash in between leaves the record due again on the next
// sweep.
func (m *Manager) transition(ctx context.Context, sys tenantctx.Context, rec DataRecord, to State, now time.Time) error {
	resource := policy.ResourceDescriptor{
		Type:        rec.ResourceType,
		ID:          rec.ID,
		OwnerTenant: rec.TenantID,
		SubjectID:   rec.SubjectID,
	}
	decision := m.engine.Evaluate(ctx, sys, resource, transitionAction(to))
	if !decision.Allowed {
		if err := m.audit(ctx, sys, auditAction(to), resource, decision, rec.DataClass); err != nil {
			return err
		}
		m.recordMetric(to, false)
		return policy.DenialError(decision)
	}
	if err := m.audit(ctx, sys, auditAction(to), resource, decision, rec.DataClass); err != nil {
		m.recordMetric(to, false)
		return err
	}
	if err := m.records.Transition(ctx, rec.ID, rec.State, to, now); err != nil {
		if !errors.Is(err, sentinel.ErrInvalidState) {
			m.recordMetric(to, false)
		}
		return err
	}

	if (to == StateAnonymized || to == StatePurged) && m.vault != nil {
		for _, token := range rec.Tokens {
			if err := m.vault.Scrub(ctx, token, now); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				m.logger.ErrorContext(ctx, "vault scrub failed",
					"record_id", rec.ID.String(), "error", err)
			}
		}
	}
	m.recordMetric(to, true)
	return nil
}

func (m *Manager) recordMetric(to State, ok bool) {
	if m.metrics != nil {
		m.metrics.RecordTransition(string(to), ok)
	}
}

func (m *Manager) audit(ctx context.Context, tc tenantctx.Context, action string, resource policy.ResourceDescriptor, decision policy.Decision, dataClass string) error {
	_, err := m.chain.Append(ctx, audit.Snapshot(tc), audit.Draft{
		Action:    action,
		Resource:  resource,
		Decision:  decision,
		DataClass: dataClass,
	})
	return err
}

func transitionAction(to State) policy.Action {
	switch to {
	case StateArchived:
		return policy.ActionArchive
	case StateAnonymized:
		return policy.ActionAnonymize
	default:
		return policy.ActionPurge
	}
}

func auditAction(to State) string {
	switch to {
	case StateArchived:
		return "record_archived"
	case StateAnonymized:
		return "record_anonymized"
	default:
		return "record_purged"
	}
}
