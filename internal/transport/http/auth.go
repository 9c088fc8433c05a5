package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	jwttoken "custos/internal/jwt_token"
	"custos/internal/tenantctx"
	id "custos/pkg/domain"
	pkgerrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

// RequireAuth authenticates the bearer token, builds the immutable actor
// context and binds it to the request. Everything downstream reads the actor
// from tenantctx, never from headers.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized: invalid token",
					"request_id", requestcontext.RequestID(ctx),
					"error", err)
				writeError(w, err)
				return
			}
			tc, err := contextFromClaims(ctx, claims)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized: malformed claims",
					"request_id", requestcontext.RequestID(ctx),
					"error", err)
				writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid token claims"))
				return
			}
			next.ServeHTTP(w, r.WithContext(tenantctx.WithContext(ctx, tc)))
		})
	}
}

func contextFromClaims(ctx context.Context, claims *jwttoken.Claims) (tenantctx.Context, error) {
	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return tenantctx.Context{}, err
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return tenantctx.Context{}, err
	}
	role, err := tenantctx.ParseRole(claims.Role)
	if err != nil {
		return tenantctx.Context{}, err
	}
	var sessionID id.SessionID
	if claims.SessionID != "" {
		if sessionID, err = id.ParseSessionID(claims.SessionID); err != nil {
			return tenantctx.Context{}, err
		}
	}
	return tenantctx.Begin(
		tenantID,
		userID,
		role,
		sessionID,
		requestcontext.RequestID(ctx),
		requestcontext.ClientIP(ctx),
		requestcontext.UserAgent(ctx),
		requestcontext.Now(ctx),
	)
}
