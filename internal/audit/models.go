package audit

import (
	"time"

	"github.com/google/uuid"

	"custos/internal/policy"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
)

// Mode controls failure semantics for appends of a data class.
type Mode string

const (
	// ModeRequired aborts the enclosing business operation when the append
	// fails (audit-or-abort). The default for everything.
	ModeRequired Mode = "required"

	// ModeBestEffort drops the event with a warning on storage failure.
	// Reserved for low-sensitivity telemetry classes, set per data class in
	// configuration.
	ModeBestEffort Mode = "best_effort"
)

// Actor is the immutable snapshot of the caller embedded in every event.
type Actor struct {
	TenantID  id.TenantID
	UserID    id.UserID
	Role      tenantctx.Role
	SessionID id.SessionID
	RequestID string
	IP        string
	UserAgent string
}

// Snapshot captures the actor fields of a tenant context.
func Snapshot(tc tenantctx.Context) Actor {
	return Actor{
		TenantID:  tc.TenantID,
		UserID:    tc.UserID,
		Role:      tc.Role,
		SessionID: tc.SessionID,
		RequestID: tc.RequestID,
		IP:        tc.IP,
		UserAgent: tc.UserAgent,
	}
}

// Draft is what callers hand to the chain. Before/After carry the raw payload
// bytes; the chain stores digests, and full capture only happens for data
// classes that opt in via configuration.
type Draft struct {
	Action    string
	Resource  policy.ResourceDescriptor
	Decision  policy.Decision
	Before    []byte
	After     []byte
	DataClass string
}

// Event is one committed, hash-linked entry. Append-only: events are never
// updated in place, and archival preserves linkage.
type Event struct {
	ID       uuid.UUID
	TenantID id.TenantID

	// Seq is the per-tenant position, starting at 1.
	Seq uint64

	Actor    Actor
	Action   string
	Resource policy.ResourceDescriptor

	Allowed  bool
	Reason   policy.Reason
	Rule     string
	Elevated bool

	// BeforeDigest/AfterDigest are sha256-prefixed content digests of the
	// payload, empty when the draft carried none.
	BeforeDigest string
	AfterDigest  string

	// Payload is the sealed full payload, present only for data classes
	// with capture enabled.
	Payload []byte

	PrevHash  string
	ThisHash  string
	CreatedAt time.Time
}

// VerificationResult reports a chain walk. BrokenSeq is the first sequence
// number whose stored entry fails recomputation or linkage; zero when the
// range verified clean.
type VerificationResult struct {
	TenantID  id.TenantID
	FromSeq   uint64
	ToSeq     uint64
	Checked   int
	Valid     bool
	BrokenSeq uint64
}

// Filter narrows an audit query. Zero values match everything. AfterSeq is
// the restart cursor: results begin strictly after it.
type Filter struct {
	Action       string
	ResourceType string
	AllowedOnly  bool
	DeniedOnly   bool
	From         time.Time
	To           time.Time
	AfterSeq     uint64
	Limit        int
}
