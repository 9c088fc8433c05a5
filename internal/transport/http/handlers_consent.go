package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"custos/internal/consent"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
)

type grantConsentRequest struct {
	SubjectID    string   `json:"subject_id"`
	HolderID     string   `json:"holder_id,omitempty"`
	Type         string   `json:"consent_type"`
	TTLDays      int      `json:"ttl_days,omitempty"`
	Restrictions []string `json:"restrictions,omitempty"`
}

type consentView struct {
	SubjectID string `json:"subject_id"`
	HolderID  string `json:"holder_id,omitempty"`
	Type      string `json:"consent_type"`
	Status    string `json:"status"`
	GrantedAt string `json:"granted_at"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (h *Handler) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	var req grantConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	subjectID, err := id.ParseSubjectID(req.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	var holderID id.UserID
	if req.HolderID != "" {
		if holderID, err = id.ParseUserID(req.HolderID); err != nil {
			writeError(w, err)
			return
		}
	}
	record, err := h.consents.Grant(ctx, tc, subjectID, holderID, consent.Type(req.Type),
		time.Duration(req.TTLDays)*24*time.Hour, req.Restrictions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(record))
}

func (h *Handler) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	var req struct {
		SubjectID string `json:"subject_id"`
		Type      string `json:"consent_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	subjectID, err := id.ParseSubjectID(req.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.consents.Revoke(ctx, tc, subjectID, consent.Type(req.Type)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListConsents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	subjectID, err := id.ParseSubjectID(r.URL.Query().Get("subject_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := h.consents.List(ctx, tc, subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]consentView, 0, len(records))
	for _, record := range records {
		views = append(views, viewOf(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"consents": views})
}

func viewOf(record consent.Record) consentView {
	view := consentView{
		SubjectID: record.SubjectID.String(),
		Type:      string(record.Type),
		Status:    string(record.Status),
		GrantedAt: record.GrantedAt.Format(time.RFC3339),
	}
	if !record.HolderID.IsNil() {
		view.HolderID = record.HolderID.String()
	}
	if !record.ExpiresAt.IsZero() {
		view.ExpiresAt = record.ExpiresAt.Format(time.RFC3339)
	}
	return view
}
