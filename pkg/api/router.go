// Package api implements C8: the chi-routed JSON HTTP surface over job
// submission, provider introspection, health, and admin operations
// (spec.md §4.8).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bin2nlp/bin2nlp/pkg/alerts"
	"github.com/bin2nlp/bin2nlp/pkg/auth"
	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/jobengine"
	"github.com/bin2nlp/bin2nlp/pkg/metrics"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/provider"
	"github.com/bin2nlp/bin2nlp/pkg/ratelimit"
	"github.com/bin2nlp/bin2nlp/pkg/storage"
	"github.com/bin2nlp/bin2nlp/pkg/uploadsession"
)

// API holds everything a handler needs to serve one request. It carries
// no per-request state; every field is safe for concurrent use.
type API struct {
	cfg       *config.Config
	store     storage.Store
	blobs     storage.BlobStore
	engine    *jobengine.Engine
	providers *provider.Registry
	authn     *auth.Authenticator
	limiter   *ratelimit.Limiter
	breakers  *breaker.Registry
	alerts    *alerts.Checker
	sessions  *uploadsession.Store
	startedAt time.Time
}

// New builds an API bound to the given dependencies. sessions may be nil,
// in which case POST /decompile skips recording an UploadSession (spec.md
// §3 names it "optional").
func New(
	cfg *config.Config,
	store storage.Store,
	blobs storage.BlobStore,
	engine *jobengine.Engine,
	providers *provider.Registry,
	authn *auth.Authenticator,
	limiter *ratelimit.Limiter,
	breakers *breaker.Registry,
	alertChecker *alerts.Checker,
	sessions *uploadsession.Store,
) *API {
	return &API{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		engine:    engine,
		providers: providers,
		authn:     authn,
		limiter:   limiter,
		breakers:  breakers,
		alerts:    alertChecker,
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

// Router builds the full chi mux for the service, grouping routes by the
// permission their pipeline step (spec §4.8) requires.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		MaxAge:           300,
	}))
	r.Use(ipRateLimit(a.limiter))

	r.Get("/health", a.handleHealth)
	r.Get("/health/live", a.handleLive)
	r.Get("/health/ready", a.handleReady)
	r.Get("/system/info", a.handleSystemInfo)
	r.Get("/decompile/test", a.handleDecompileTest)
	r.Handle("/admin/metrics/prometheus", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(a.authn, a.limiter, models.PermissionWrite))
		r.Post("/decompile", a.handleSubmit)
		r.Delete("/decompile/{id}", a.handleCancelJob)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(a.authn, a.limiter, models.PermissionRead))
		r.Get("/decompile/{id}", a.handleGetJob)
		r.Get("/llm-providers", a.handleListProviders)
		r.Get("/llm-providers/{id}", a.handleGetProvider)
		r.Post("/llm-providers/{id}/health-check", a.handleProviderHealthCheck)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/bootstrap/create-admin", a.handleBootstrapAdmin)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(a.authn, a.limiter, models.PermissionAdmin))

			r.Get("/stats", a.handleAdminStats)
			r.Get("/config", a.handleAdminConfig)

			r.Post("/api-keys", a.handleCreateAPIKey)
			r.Get("/api-keys/{user_id}", a.handleListAPIKeys)
			r.Delete("/api-keys/{user_id}/{key_id}", a.handleRevokeAPIKey)

			r.Get("/circuit-breakers", a.handleListBreakers)
			r.Get("/circuit-breakers/{name}", a.handleGetBreaker)
			r.Post("/circuit-breakers/{name}/reset", a.handleResetBreaker)
			r.Post("/circuit-breakers/{name}/force-open", a.handleForceOpenBreaker)
			r.Get("/circuit-breakers/health-check/all", a.handleBreakerHealthCheckAll)

			r.Get("/alerts", a.handleListAlerts)
			r.Post("/alerts/check", a.handleCheckAlerts)
			r.Post("/alerts/{id}/acknowledge", a.handleAcknowledgeAlert)
			r.Post("/alerts/{id}/resolve", a.handleResolveAlert)
		})
	})

	return r
}
