// Package vault stores sensitive field values under opaque tokens, encrypted
// with versioned per-tenant keys. Detokenization is policy-gated and audited;
// key rotation is copy-on-write so foreground traffic never blocks on it.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"custos/internal/audit"
	"custos/internal/policy"
	"custos/internal/tenantctx"
	vaultmetrics "custos/internal/vault/metrics"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/requestcontext"
)

// Authorizer is the slice of the policy engine the vault needs.
type Authorizer interface {
	Evaluate(ctx context.Context, tc tenantctx.Context, resource policy.ResourceDescriptor, action policy.Action) policy.Decision
}

// Recorder is the slice of the audit chain the vault needs.
type Recorder interface {
	Append(ctx context.Context, actor audit.Actor, draft audit.Draft) (audit.Event, error)
}

// AlertSink receives operator-facing alerts for key lifecycle failures.
type AlertSink interface {
	KeyExpired(ctx context.Context, tenantID id.TenantID, keyID id.KeyID)
}

// reencryptConcurrency bounds the rotation migration's parallel re-encrypts.
const reencryptConcurrency = 8

// DefaultKeyGrace is how long a retired key keeps decrypting before it
// expires, unless configuration overrides it.
const DefaultKeyGrace = 30 * 24 * time.Hour

// Service is the tokenization vault.
type Service struct {
	keys    KeyStore
	entries EntryStore
	engine  Authorizer
	chain   Recorder
	logger  *slog.Logger
	metrics *vaultmetrics.Metrics
	alerts  AlertSink
	tracer  trace.Tracer
	grace   time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithMetrics(m *vaultmetrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithAlerts(alerts AlertSink) ServiceOption {
	return func(s *Service) { s.alerts = alerts }
}

// WithKeyGrace overrides the retiring-key grace period.
func WithKeyGrace(grace time.Duration) ServiceOption {
	return func(s *Service) { s.grace = grace }
}

func NewService(keys KeyStore, entries EntryStore, engine Authorizer, chain Recorder, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		keys:    keys,
		entries: entries,
		engine:  engine,
		chain:   chain,
		logger:  logger,
		tracer:  otel.Tracer("custos/vault"),
		grace:   DefaultKeyGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// entryAD binds a ciphertext to its tenant and token so a sealed value can
// never be replayed under another entry, even with the same key version.
func entryAD(tenantID id.TenantID, token string) []byte {
	return []byte(tenantID.String() + "/" + token)
}

// Tokenize vaults a sensitive value and returns its opaque token. The caller
// must already hold write access to the originating resource; the engine is
// consulted again here so the vault cannot be used as a side door.
//
// An empty plaintext returns the sentinel empty token without allocating a
// vault row.
func (s *Service) Tokenize(ctx context.Context, tc tenantctx.Context, resource policy.ResourceDescriptor, dataType string, plaintext []byte) (string, error) {
	ctx, span := s.tracer.Start(ctx, "vault.Tokenize")
	defer span.End()

	if len(plaintext) == 0 {
		return EmptyToken, nil
	}

	decision := s.engine.Evaluate(ctx, tc, resource, policy.ActionUpdate)
	if !decision.Allowed {
		s.recordTokenize(dataType, false)
		if err := s.audit(ctx, tc, "field_tokenized", resource, decision, dataType); err != nil {
			return "", err
		}
		return "", policy.DenialError(decision)
	}

	key, err := s.keys.ActiveKey(ctx, tc.TenantID)
	if err != nil {
		s.recordTokenize(dataType, false)
		return "", pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load active key", err)
	}

	token, err := newToken()
	if err != nil {
		s.recordTokenize(dataType, false)
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, "mint token", err)
	}

	nonce, ciphertext, tag, err := encrypt(key.Material, plaintext, entryAD(tc.TenantID, token))
	if err != nil {
		s.recordTokenize(dataType, false)
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, "encrypt value", err)
	}

	entry := Entry{
		Token:        token,
		TenantID:     tc.TenantID,
		DataType:     dataType,
		ResourceType: resource.Type,
		ResourceID:   resource.ID,
		SubjectID:    resource.SubjectID,
		KeyID:        key.ID,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
		Tag:          tag,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := s.entries.Save(ctx, entry); err != nil {
		s.recordTokenize(dataType, false)
		return "", pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "save vault entry", err)
	}

	if err := s.audit(ctx, tc, "field_tokenized", resource, decision, dataType); err != nil {
		return "", err
	}
	s.recordTokenize(dataType, true)
	return token, nil
}

// Detokenize recovers the plaintext behind a token. The reveal is
// policy-checked against the originating resource and audited regardless of
// outcome. A token owned by another tenant fails exactly like a policy
// tenant-mismatch denial, even though the key material could decrypt it.
func (s *Service) Detokenize(ctx context.Context, tc tenantctx.Context, token string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "vault.Detokenize")
	defer span.End()

	if token == EmptyToken {
		return []byte{}, nil
	}

	entry, err := s.entries.Get(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.recordDetokenize("unknown", false)
		return nil, pkgerrors.New(pkgerrors.CodeVaultMiss, "token does not resolve")
	}
	if err != nil {
		s.recordDetokenize("unknown", false)
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load vault entry", err)
	}

	resource := policy.ResourceDescriptor{
		Type:        entry.ResourceType,
		ID:          entry.ResourceID,
		OwnerTenant: entry.TenantID,
		SubjectID:   entry.SubjectID,
	}

	// Cross-tenant tokens deny in the same shape as the policy engine's
	// tenant-mismatch denial, for any role. Elevation does not reach across
	// vault boundaries: a token never resolves outside its owning tenant.
	if entry.TenantID != tc.TenantID {
		decision := policy.Decision{Reason: policy.ReasonTenantMismatch, EvaluatedRole: tc.Role}
		if err := s.audit(ctx, tc, "field_revealed", resource, decision, entry.DataType); err != nil {
			return nil, err
		}
		s.recordDetokenize(entry.DataType, false)
		return nil, policy.DenialError(decision)
	}

	decision := s.engine.Evaluate(ctx, tc, resource, policy.ActionReveal)
	if err := s.audit(ctx, tc, "field_revealed", resource, decision, entry.DataType); err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.recordDetokenize(entry.DataType, false)
		return nil, policy.DenialError(decision)
	}

	if entry.DeletedAt != nil {
		s.recordDetokenize(entry.DataType, false)
		return nil, pkgerrors.New(pkgerrors.CodeVaultMiss, "token content was scrubbed")
	}

	key, err := s.keys.KeyByID(ctx, entry.KeyID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.recordDetokenize(entry.DataType, false)
		return nil, pkgerrors.New(pkgerrors.CodeKeyNotFound, "entry key is unknown")
	}
	if err != nil {
		s.recordDetokenize(entry.DataType, false)
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load entry key", err)
	}
	if key.Status == KeyExpired {
		s.recordDetokenize(entry.DataType, false)
		s.logger.ErrorContext(ctx, "detokenization against expired key",
			"tenant_id", entry.TenantID.String(),
			"key_id", key.ID.String(),
			"key_version", key.Version)
		if s.alerts != nil {
			s.alerts.KeyExpired(ctx, entry.TenantID, key.ID)
		}
		return nil, pkgerrors.New(pkgerrors.CodeKeyExpired, "entry key has expired")
	}

	plaintext, err := decrypt(key.Material, entry.Nonce, entry.Ciphertext, entry.Tag, entryAD(entry.TenantID, entry.Token))
	if err != nil {
		s.recordDetokenize(entry.DataType, false)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, "decrypt vault entry", err)
	}
	s.recordDetokenize(entry.DataType, true)
	return plaintext, nil
}

// DeleteToken scrubs an entry's recoverable content while keeping the row
// for audit referential history.
func (s *Service) DeleteToken(ctx context.Context, tc tenantctx.Context, token string) error {
	if token == EmptyToken {
		return nil
	}
	entry, err := s.entries.Get(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return pkgerrors.New(pkgerrors.CodeVaultMiss, "token does not resolve")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load vault entry", err)
	}

	resource := policy.ResourceDescriptor{
		Type:        entry.ResourceType,
		ID:          entry.ResourceID,
		OwnerTenant: entry.TenantID,
		SubjectID:   entry.SubjectID,
	}
	if entry.TenantID != tc.TenantID {
		decision := policy.Decision{Reason: policy.ReasonTenantMismatch, EvaluatedRole: tc.Role}
		if err := s.audit(ctx, tc, "vault_entry_deleted", resource, decision, entry.DataType); err != nil {
			return err
		}
		return policy.DenialError(decision)
	}
	decision := s.engine.Evaluate(ctx, tc, resource, policy.ActionDelete)
	if !decision.Allowed {
		if err := s.audit(ctx, tc, "vault_entry_deleted", resource, decision, entry.DataType); err != nil {
			return err
		}
		return policy.DenialError(decision)
	}

	if err := s.entries.Scrub(ctx, token, requestcontext.Now(ctx)); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "scrub vault entry", err)
	}
	return s.audit(ctx, tc, "vault_entry_deleted", resource, decision, entry.DataType)
}

// RotateKeys creates the tenant's next key version and retires the current
// one. Existing entries stay pinned to their version; ReencryptEntries
// migrates them in the background.
func (s *Service) RotateKeys(ctx context.Context, tc tenantctx.Context, grace time.Duration) (EncryptionKey, error) {
	ctx, span := s.tracer.Start(ctx, "vault.RotateKeys")
	defer span.End()

	resource := policy.ResourceDescriptor{
		Type:        "encryption_key",
		OwnerTenant: tc.TenantID,
	}
	decision := s.engine.Evaluate(ctx, tc, resource, policy.ActionUpdate)
	if !decision.Allowed {
		if err := s.audit(ctx, tc, "encryption_keys_rotated", resource, decision, "key_management"); err != nil {
			return EncryptionKey{}, err
		}
		return EncryptionKey{}, policy.DenialError(decision)
	}

	if grace <= 0 {
		grace = s.grace
	}
	key, err := s.keys.Rotate(ctx, tc.TenantID, grace)
	if err != nil {
		return EncryptionKey{}, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "rotate keys", err)
	}
	if err := s.audit(ctx, tc, "encryption_keys_rotated", resource, decision, "key_management"); err != nil {
		return EncryptionKey{}, err
	}
	if s.metrics != nil {
		s.metrics.KeyRotationsTotal.Inc()
	}
	return key, nil
}

// ReencryptEntries migrates every live entry pinned to oldKey onto the
// tenant's current active key. Safe to run while foreground traffic
// continues: each entry is re-read and replaced independently, and a failed
// entry is logged and skipped so the migration can be re-run.
func (s *Service) ReencryptEntries(ctx context.Context, tenantID id.TenantID, oldKey id.KeyID) (int, error) {
	ctx, span := s.tracer.Start(ctx, "vault.ReencryptEntries")
	defer span.End()

	tokens, err := s.entries.TokensByKey(ctx, oldKey)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "list entries for migration", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	source, err := s.keys.KeyByID(ctx, oldKey)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load source key", err)
	}
	target, err := s.keys.ActiveKey(ctx, tenantID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load target key", err)
	}
	if target.ID == source.ID {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidInput, "source key is still active; rotate first")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reencryptConcurrency)
	migrated := 0
	var mu sync.Mutex

	for _, token := range tokens {
		token := token
		g.Go(func() error {
			if err := s.reencryptOne(ctx, token, source, target); err != nil {
				s.logger.WarnContext(ctx, "reencrypt entry failed; will retry on next run",
					"token_suffix", token[len(token)-4:],
					"error", err)
				return nil
			}
			mu.Lock()
			migrated++
			mu.Unlock()
			if s.metrics != nil {
				s.metrics.ReencryptedEntries.Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return migrated, err
	}
	return migrated, nil
}

// MaintenanceReport summarizes one key maintenance run.
type MaintenanceReport struct {
	// Migrated counts entries moved off retiring keys this run.
	Migrated int

	// Expired counts retiring keys whose grace period ended.
	Expired int
}

// MaintainKeys drives the key lifecycle forward: entries pinned to retiring
// keys are migrated onto the active version, then retiring keys past their
// grace period become expired. Runs on a timer in the server; a failed
// tenant's migration is logged and retried on the next run, the rest of the
// run continues.
func (s *Service) MaintainKeys(ctx context.Context, now time.Time) (MaintenanceReport, error) {
	ctx, span := s.tracer.Start(ctx, "vault.MaintainKeys")
	defer span.End()

	var report MaintenanceReport

	retiring, err := s.keys.Retiring(ctx)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "list retiring keys", err)
	}
	for _, key := range retiring {
		migrated, err := s.ReencryptEntries(ctx, key.TenantID, key.ID)
		report.Migrated += migrated
		if err != nil {
			s.logger.ErrorContext(ctx, "key migration failed; will retry on next run",
				"tenant_id", key.TenantID.String(),
				"key_id", key.ID.String(),
				"key_version", key.Version,
				"error", err)
		}
	}

	expired, err := s.keys.ExpireRetired(ctx, now)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "expire retired keys", err)
	}
	report.Expired = expired
	if expired > 0 {
		s.logger.InfoContext(ctx, "retired keys expired", "count", expired)
	}
	return report, nil
}

func (s *Service) reencryptOne(ctx context.Context, token string, source, target EncryptionKey) error {
	entry, err := s.entries.Get(ctx, token)
	if err != nil {
		return err
	}
	if entry.DeletedAt != nil || entry.KeyID != source.ID {
		// Scrubbed or already migrated by a concurrent run.
		return nil
	}
	plaintext, err := decrypt(source.Material, entry.Nonce, entry.Ciphertext, entry.Tag, entryAD(entry.TenantID, entry.Token))
	if err != nil {
		return err
	}
	nonce, ciphertext, tag, err := encrypt(target.Material, plaintext, entryAD(entry.TenantID, entry.Token))
	if err != nil {
		return err
	}
	entry.KeyID = target.ID
	entry.Nonce = nonce
	entry.Ciphertext = ciphertext
	entry.Tag = tag
	return s.entries.Replace(ctx, entry)
}

// Seal encrypts an audit payload capture under the tenant's active key. The
// output embeds the key id so the payload remains recoverable after
// rotation. Implements the audit chain's PayloadSealer.
func (s *Service) Seal(ctx context.Context, tenantID id.TenantID, plaintext []byte) ([]byte, error) {
	key, err := s.keys.ActiveKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext, tag, err := encrypt(key.Material, plaintext, []byte("custos/audit-payload/"+tenantID.String()))
	if err != nil {
		return nil, err
	}
	keyID := [16]byte(key.ID)
	out := make([]byte, 0, len(keyID)+len(nonce)+len(ciphertext)+len(tag))
	out = append(out, keyID[:]...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

func (s *Service) audit(ctx context.Context, tc tenantctx.Context, action string, resource policy.ResourceDescriptor, decision policy.Decision, dataClass string) error {
	_, err := s.chain.Append(ctx, audit.Snapshot(tc), audit.Draft{
		Action:    action,
		Resource:  resource,
		Decision:  decision,
		DataClass: dataClass,
	})
	return err
}

func (s *Service) recordTokenize(dataType string, ok bool) {
	if s.metrics != nil {
		s.metrics.RecordTokenize(dataType, ok)
	}
}

func (s *Service) recordDetokenize(dataType string, ok bool) {
	if s.metrics != nil {
		s.metrics.RecordDetokenize(dataType, ok)
	}
}
