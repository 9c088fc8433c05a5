// Package httptransport is the thin HTTP layer over the compliance core. It
// delegates to the domain services without embedding business logic so
// transport concerns stay isolated.
package httptransport

import (
	"encoding/json"
	"net/http"

	pkgerrors "custos/pkg/domain-errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors into the JSON error envelope. Every
// authorization denial collapses to the same generic body: the reason would
// leak which rule failed, and with it whether another tenant's data exists.
func writeError(w http.ResponseWriter, err error) {
	code := pkgerrors.CodeOf(err)
	switch code {
	case pkgerrors.CodeTenantMismatch,
		pkgerrors.CodeRoleInsufficient,
		pkgerrors.CodeConsentRequired,
		pkgerrors.CodeConsentExpired:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not_authorized"})
		return
	}
	writeJSON(w, statusFor(code), map[string]string{"error": string(code)})
}

func statusFor(code pkgerrors.Code) int {
	switch code {
	case pkgerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case pkgerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case pkgerrors.CodeNotFound, pkgerrors.CodeVaultMiss, pkgerrors.CodeKeyNotFound:
		return http.StatusNotFound
	case pkgerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case pkgerrors.CodeKeyExpired:
		return http.StatusConflict
	case pkgerrors.CodeChainIntegrity:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
