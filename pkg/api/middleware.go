package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/auth"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/ratelimit"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// apiKeyFromContext returns the authenticated ApiKey, set by requireAuth.
func apiKeyFromContext(ctx context.Context) *models.ApiKey {
	key, _ := ctx.Value(apiKeyContextKey).(*models.ApiKey)
	return key
}

// requireAuth implements spec §4.8's request pipeline steps 1-5: extract
// bearer, resolve and validate the key, check the required permission,
// then consume a rate-limit token before calling next.
func requireAuth(authn *auth.Authenticator, limiter *ratelimit.Limiter, required models.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := extractBearer(r)
			key, err := authn.Authenticate(r.Context(), bearer)
			if err != nil {
				writeError(w, err)
				return
			}
			if err := auth.RequirePermission(key, required); err != nil {
				writeError(w, err)
				return
			}
			allowed, err := limiter.AllowAPIKey(r.Context(), key.KeyID, key.Tier)
			if err != nil {
				writeError(w, apperr.Wrap(apperr.KindInternal, "rate limit check", err))
				return
			}
			if !allowed {
				writeError(w, apperr.New(apperr.KindRateLimited, "api key quota exceeded"))
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// ipRateLimit enforces the unauthenticated per-IP quota (spec §4.5) ahead
// of any auth check, protecting routes like /decompile/test.
func ipRateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, err := limiter.AllowIP(r.Context(), ip)
			if err != nil {
				writeError(w, apperr.Wrap(apperr.KindInternal, "rate limit check", err))
				return
			}
			if !allowed {
				writeError(w, apperr.New(apperr.KindRateLimited, "ip quota exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}
