package api

import (
	"net/http"

	mw "github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/middleware"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/response"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   http.Handler

	HealthHandler http.HandlerFunc
	ListJobs      http.HandlerFunc
	GetJob        http.HandlerFunc
	RetryJob      http.HandlerFunc
	Backfill      http.HandlerFunc
	ListSignals   http.HandlerFunc
	ListAlerts    http.HandlerFunc
	GetInsights   http.HandlerFunc
	ListBreakers  http.HandlerFunc
	CreateKey     http.HandlerFunc
	ListKeys      http.HandlerFunc
	RevokeKey     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Route not found", nil)
	})

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
			r.Get("/api/v1/aois/{aoiID}/signals", orNotImplemented(deps.ListSignals))
			r.Get("/api/v1/aois/{aoiID}/alerts", orNotImplemented(deps.ListAlerts))
			r.Get("/api/v1/aois/{aoiID}/insights", orNotImplemented(deps.GetInsights))
			r.Get("/api/v1/breakers", orNotImplemented(deps.ListBreakers))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeOperate))

			r.Post("/api/v1/jobs/{jobID}/retry", orNotImplemented(deps.RetryJob))
			r.Post("/api/v1/aois/{aoiID}/backfill", orNotImplemented(deps.Backfill))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKey))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeys))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKey))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
