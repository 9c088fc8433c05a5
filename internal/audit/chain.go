// Package audit implements the tamper-evident, hash-linked event log. Every
// privileged operation (allowed or denied) appends one entry whose hash
// covers the previous entry's hash, so altering any committed entry breaks
// the chain from that point forward.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custos/internal/audit/metrics"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
)

// Store persists the chain. Append must commit the event and the tenant's new
// tip atomically; Tip must return GenesisHash and seq 0 for an empty chain.
type Store interface {
	Append(ctx context.Context, event Event) error
	Tip(ctx context.Context, tenantID id.TenantID) (hash string, seq uint64, err error)
	Range(ctx context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) ([]Event, error)
	Query(ctx context.Context, tenantID id.TenantID, filter Filter) ([]Event, error)
}

// PayloadSealer encrypts full payload captures before they are stored. The
// vault provides the implementation; the chain never sees key material.
type PayloadSealer interface {
	Seal(ctx context.Context, tenantID id.TenantID, plaintext []byte) ([]byte, error)
}

// AlertSink receives operator-facing alerts for integrity violations.
type AlertSink interface {
	ChainIntegrityViolation(ctx context.Context, tenantID id.TenantID, brokenSeq uint64)
}

// Chain serializes appends per tenant and verifies stored ranges. Appends for
// different tenants proceed in parallel; verification reads only committed
// entries and can run concurrently with appends.
type Chain struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	sealer  PayloadSealer
	alerts  AlertSink
	tracer  trace.Tracer

	// modes and capture are per-data-class configuration, frozen at
	// construction.
	modes   map[string]Mode
	capture map[string]bool

	mu    sync.Mutex
	locks map[id.TenantID]*sync.Mutex
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithModes sets per-data-class failure semantics. Classes not listed use
// ModeRequired.
func WithModes(modes map[string]Mode) ChainOption {
	return func(c *Chain) {
		for class, mode := range modes {
			c.modes[class] = mode
		}
	}
}

// WithCapture enables sealed full-payload storage for the given data classes.
// Requires a sealer; capture is skipped with a warning when none is wired.
func WithCapture(classes []string) ChainOption {
	return func(c *Chain) {
		for _, class := range classes {
			c.capture[class] = true
		}
	}
}

// WithSealer wires the payload encryption used for captured payloads.
func WithSealer(sealer PayloadSealer) ChainOption {
	return func(c *Chain) { c.sealer = sealer }
}

// WithAlerts wires the operator alert sink.
func WithAlerts(alerts AlertSink) ChainOption {
	return func(c *Chain) { c.alerts = alerts }
}

// WithMetrics attaches chain counters.
func WithMetrics(m *metrics.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// NewChain builds a chain over the given store.
func NewChain(store Store, logger *slog.Logger, opts ...ChainOption) *Chain {
	c := &Chain{
		store:   store,
		logger:  logger,
		tracer:  otel.Tracer("custos/audit"),
		modes:   make(map[string]Mode),
		capture: make(map[string]bool),
		locks:   make(map[id.TenantID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tenantLock returns the append lock for one tenant, creating it on first
// use. Locks are never removed; the map grows with the active tenant set.
func (c *Chain) tenantLock(tenantID id.TenantID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[tenantID] = lock
	}
	return lock
}

// Append commits one event to the actor's tenant chain. For ModeRequired
// data classes a storage failure is returned as a coded error and the caller
// must abort its business operation; for ModeBestEffort classes the event is
// dropped with a warning and Append reports success with a zero event.
func (c *Chain) Append(ctx context.Context, actor Actor, draft Draft) (Event, error) {
	ctx, span := c.tracer.Start(ctx, "audit.Append")
	defer span.End()

	if draft.Action == "" {
		return Event{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "audit draft requires an action")
	}
	if err := ctx.Err(); err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeTimeout, "audit append", err)
	}

	tenantID := actor.TenantID
	lock := c.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	prevHash, prevSeq, err := c.store.Tip(ctx, tenantID)
	if err != nil {
		return c.appendFailed(ctx, draft, fmt.Errorf("load chain tip: %w", err))
	}

	event := Event{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Seq:          prevSeq + 1,
		Actor:        actor,
		Action:       draft.Action,
		Resource:     draft.Resource,
		Allowed:      draft.Decision.Allowed,
		Reason:       draft.Decision.Reason,
		Rule:         draft.Decision.MatchedRule,
		Elevated:     draft.Decision.Elevated,
		BeforeDigest: Digest(draft.Before),
		AfterDigest:  Digest(draft.After),
		PrevHash:     prevHash,
		// Truncated to microseconds so the hashed timestamp survives a
		// round trip through timestamp columns unchanged.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	if c.capture[draft.DataClass] && c.sealer != nil {
		after := draft.After
		if len(after) == 0 {
			after = draft.Before
		}
		sealed, err := c.sealer.Seal(ctx, tenantID, after)
		if err != nil {
			return c.appendFailed(ctx, draft, fmt.Errorf("seal audit payload: %w", err))
		}
		event.Payload = sealed
	}

	event.ThisHash = computeHash(prevHash, &event)

	if err := c.store.Append(ctx, event); err != nil {
		return c.appendFailed(ctx, draft, fmt.Errorf("append audit event: %w", err))
	}

	if c.metrics != nil {
		c.metrics.RecordAppend(draft.DataClass, true)
	}
	return event, nil
}

// appendFailed applies the data class's failure mode.
func (c *Chain) appendFailed(ctx context.Context, draft Draft, err error) (Event, error) {
	if c.metrics != nil {
		c.metrics.RecordAppend(draft.DataClass, false)
	}
	if c.modes[draft.DataClass] == ModeBestEffort {
		c.logger.WarnContext(ctx, "dropping best-effort audit event",
			"action", draft.Action,
			"data_class", draft.DataClass,
			"error", err)
		return Event{}, nil
	}
	return Event{}, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "audit append failed", err)
}

// Verify recomputes hashes over [fromSeq, toSeq] for one tenant and reports
// the first broken link. A fromSeq of 0 starts at the beginning; a toSeq of 0
// runs to the current tip.
func (c *Chain) Verify(ctx context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) (VerificationResult, error) {
	ctx, span := c.tracer.Start(ctx, "audit.Verify")
	defer span.End()

	if toSeq == 0 {
		_, tip, err := c.store.Tip(ctx, tenantID)
		if err != nil {
			return VerificationResult{}, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load chain tip", err)
		}
		toSeq = tip
	}
	if fromSeq == 0 {
		fromSeq = 1
	}

	result := VerificationResult{TenantID: tenantID, FromSeq: fromSeq, ToSeq: toSeq, Valid: true}
	if toSeq < fromSeq {
		return result, nil
	}

	events, err := c.store.Range(ctx, tenantID, fromSeq, toSeq)
	if err != nil {
		return VerificationResult{}, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "load chain range", err)
	}

	expectedSeq := fromSeq
	prevHash := ""
	for i := range events {
		e := &events[i]
		result.Checked++

		// A missing or reordered entry breaks the walk as surely as a
		// mutated one.
		if e.Seq != expectedSeq {
			return c.broken(ctx, result, expectedSeq), nil
		}
		if e.Seq == 1 && e.PrevHash != GenesisHash {
			return c.broken(ctx, result, e.Seq), nil
		}
		if prevHash != "" && e.PrevHash != prevHash {
			return c.broken(ctx, result, e.Seq), nil
		}
		if !verifyEvent(e) {
			return c.broken(ctx, result, e.Seq), nil
		}
		prevHash = e.ThisHash
		expectedSeq++
	}
	if uint64(len(events)) != toSeq-fromSeq+1 {
		return c.broken(ctx, result, expectedSeq), nil
	}

	if c.metrics != nil {
		c.metrics.RecordVerification(true)
	}
	return result, nil
}

func (c *Chain) broken(ctx context.Context, result VerificationResult, seq uint64) VerificationResult {
	result.Valid = false
	result.BrokenSeq = seq
	c.logger.ErrorContext(ctx, "audit chain integrity violation",
		"tenant_id", result.TenantID.String(),
		"broken_seq", seq)
	if c.metrics != nil {
		c.metrics.RecordVerification(false)
	}
	if c.alerts != nil {
		c.alerts.ChainIntegrityViolation(ctx, result.TenantID, seq)
	}
	return result
}

// Query returns committed events matching the filter, ordered by sequence.
// Callers resume with Filter.AfterSeq set to the last event's Seq.
func (c *Chain) Query(ctx context.Context, tenantID id.TenantID, filter Filter) ([]Event, error) {
	events, err := c.store.Query(ctx, tenantID, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, "query audit events", err)
	}
	return events, nil
}
