package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"custos/internal/retention"
	"custos/internal/tenantctx"
	pkgerrors "custos/pkg/domain-errors"
)

type retentionPolicyRequest struct {
	DataClass     string `json:"data_class"`
	RetentionDays int    `json:"retention_days"`
	Action        string `json:"action_on_expiry"`
}

type retentionPolicyView struct {
	DataClass     string `json:"data_class"`
	RetentionDays int    `json:"retention_days"`
	Action        string `json:"action_on_expiry"`
}

func (h *Handler) handleConfigureRetention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	var req retentionPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	err := h.retention.ConfigurePolicy(ctx, tc, retention.Policy{
		DataClass:       req.DataClass,
		RetentionPeriod: time.Duration(req.RetentionDays) * 24 * time.Hour,
		ActionOnExpiry:  retention.Action(req.Action),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRetention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	policies, err := h.retention.Policies(ctx, tc)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]retentionPolicyView, 0, len(policies))
	for _, p := range policies {
		views = append(views, retentionPolicyView{
			DataClass:     p.DataClass,
			RetentionDays: int(p.RetentionPeriod / (24 * time.Hour)),
			Action:        string(p.ActionOnExpiry),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": views})
}

// handleRunSweep triggers one sweep outside the schedule. Reserved for
// admins; the sweep itself still runs as the System actor per tenant.
func (h *Handler) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	if tc.Role != tenantctx.RoleAdmin && tc.Role != tenantctx.RoleSuperAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not_authorized"})
		return
	}
	report, err := h.retention.RunSweep(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"examined":   report.Examined,
		"archived":   report.Archived,
		"anonymized": report.Anonymized,
		"purged":     report.Purged,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
	})
}
