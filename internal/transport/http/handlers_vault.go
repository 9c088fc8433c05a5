package httptransport

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custos/internal/tenantctx"
	pkgerrors "custos/pkg/domain-errors"
)

type tokenizeRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	SubjectID    string `json:"subject_id,omitempty"`
	DataType     string `json:"data_type"`
	Plaintext    string `json:"plaintext"`
}

func (h *Handler) handleTokenize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	var req tokenizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.DataType == "" {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "data_type is required"))
		return
	}
	resource, err := h.resourceFromRequest(tc, req.ResourceType, req.ResourceID, req.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	plaintext, err := base64.StdEncoding.DecodeString(req.Plaintext)
	if err != nil {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "plaintext must be base64"))
		return
	}
	token, err := h.vault.Tokenize(ctx, tc, resource, req.DataType, plaintext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "token is required"))
		return
	}
	plaintext, err := h.vault.Detokenize(ctx, tc, req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
}

func (h *Handler) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	var req struct {
		GraceHours int `json:"grace_hours,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "invalid request body"))
			return
		}
	}
	key, err := h.vault.RotateKeys(ctx, tc, time.Duration(req.GraceHours)*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key_id":  key.ID.String(),
		"version": key.Version,
	})
}

func (h *Handler) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, ok := tenantctx.FromContext(ctx)
	if !ok {
		writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor context"))
		return
	}
	token := chi.URLParam(r, "token")
	if token == "" {
		writeError(w, pkgerrors.New(pkgerrors.CodeInvalidInput, "token is required"))
		return
	}
	if err := h.vault.DeleteToken(ctx, tc, token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
