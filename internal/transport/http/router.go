package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custos/internal/audit"
	"custos/internal/consent"
	"custos/internal/masking"
	"custos/internal/policy"
	"custos/internal/retention"
	"custos/internal/vault"
)

// Handler is the thin HTTP layer over the compliance services.
type Handler struct {
	engine    *policy.Engine
	chain     *audit.Chain
	vault     *vault.Service
	consents  *consent.Service
	retention *retention.Manager
	masker    *masking.Layer
	logger    *slog.Logger
}

func NewHandler(
	engine *policy.Engine,
	chain *audit.Chain,
	vaultSvc *vault.Service,
	consents *consent.Service,
	retentionMgr *retention.Manager,
	masker *masking.Layer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		engine:    engine,
		chain:     chain,
		vault:     vaultSvc,
		consents:  consents,
		retention: retentionMgr,
		masker:    masker,
		logger:    logger,
	}
}

// NewRouter wires the public endpoints. Authenticated routes run behind the
// JWT middleware; health and metrics stay open.
func NewRouter(h *Handler, validator TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(Recovery(h.logger))
	r.Use(RequestID)
	r.Use(RequestTime)
	r.Use(ClientMetadata)
	r.Use(RequestLogger(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAuth(validator, h.logger))

		r.Post("/authorize", h.handleAuthorize)

		r.Get("/audit/events", h.handleAuditEvents)
		r.Get("/audit/verify", h.handleAuditVerify)

		r.Post("/vault/tokenize", h.handleTokenize)
		r.Post("/vault/detokenize", h.handleDetokenize)
		r.Post("/vault/rotate", h.handleRotateKeys)
		r.Delete("/vault/tokens/{token}", h.handleDeleteToken)

		r.Put("/retention/policies", h.handleConfigureRetention)
		r.Get("/retention/policies", h.handleListRetention)
		r.Post("/retention/sweep", h.handleRunSweep)

		r.Post("/consents", h.handleGrantConsent)
		r.Post("/consents/revoke", h.handleRevokeConsent)
		r.Get("/consents", h.handleListConsents)
	})
	return r
}
