package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"custos/internal/audit"
	"custos/internal/policy"
	"custos/internal/tenantctx"
	pkgerrors "custos/pkg/domain-errors"
)

type auditEventView struct {
	ID           string `json:"id"`
	Seq          uint64 `json:"seq"`
	ActorUserID  string `json:"actor_user_id,omitempty"`
	ActorRole    string `json:"actor_role"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason"`
	Rule         string `json:"rule,omitempty"`
	Elevated     bool   `json:"elevated,omitempty"`
	PrevHash     string `json:"prev_hash"`
	ThisHash     string `json:"this_hash"`
	CreatedAt    string `json:"created_at"`
}

// handleAuditEvents lists the caller's tenant chain, filtered and
// cursor-paged by sequence number.
func (h *Handler) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	decision := h.engine.Evaluate(ctx, tc, policy.ResourceDescriptor{
		Type:        policy.ResourceAuditLog,
		OwnerTenant: tc.TenantID,
	}, policy.ActionRead)
	if !decision.Allowed {
		writeError(w, policy.DenialError(decision))
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.chain.Query(ctx, tc.TenantID, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]auditEventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

// handleAuditVerify recomputes the hash chain over a range and reports the
// first broken link, if any.
func (h *Handler) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	decision := h.engine.Evaluate(ctx, tc, policy.ResourceDescriptor{
		Type:        policy.ResourceAuditLog,
		OwnerTenant: tc.TenantID,
	}, policy.ActionRead)
	if !decision.Allowed {
		writeError(w, policy.DenialError(decision))
		return
	}

	from, err := queryUint(r, "from_seq", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryUint(r, "to_seq", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.chain.Verify(ctx, tc.TenantID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{
		"valid":    result.Valid,
		"checked":  result.Checked,
		"from_seq": result.FromSeq,
		"to_seq":   result.ToSeq,
	}
	if !result.Valid {
		body["broken_seq"] = result.BrokenSeq
	}
	writeJSON(w, http.StatusOK, body)
}

func filterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		AllowedOnly:  q.Get("decision") == "allowed",
		DeniedOnly:   q.Get("decision") == "denied",
	}
	var err error
	if filter.AfterSeq, err = queryUint(r, "after_seq", 0); err != nil {
		return audit.Filter{}, err
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		return audit.Filter{}, err
	}
	filter.Limit = int(limit)
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return audit.Filter{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "from must be RFC 3339")
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return audit.Filter{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "to must be RFC 3339")
		}
	}
	return filter, nil
}

func queryUint(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidInput, key+" must be a non-negative integer")
	}
	return v, nil
}

func eventView(e audit.Event) auditEventView {
	view := auditEventView{
		ID:           e.ID.String(),
		Seq:          e.Seq,
		ActorRole:    string(e.Actor.Role),
		Action:       e.Action,
		ResourceType: e.Resource.Type,
		Allowed:      e.Allowed,
		Reason:       string(e.Reason),
		Rule:         e.Rule,
		Elevated:     e.Elevated,
		PrevHash:     e.PrevHash,
		ThisHash:     e.ThisHash,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339Nano),
	}
	if !e.Actor.UserID.IsNil() {
		view.ActorUserID = e.Actor.UserID.String()
	}
	if !e.Resource.ID.IsNil() {
		view.ResourceID = e.Resource.ID.String()
	}
	return view
}
