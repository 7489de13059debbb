package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/response"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
)

// Pinger is any dependency with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler serves GET /api/v1/health. Each named dependency is
// pinged with a short timeout; any failure turns the response into a 503.
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string, len(deps))
		healthy := true
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				slog.Warn("health check failed", "dependency", name, "error", err)
				checks[name] = "unavailable"
				healthy = false
				continue
			}
			checks[name] = "ok"
		}
		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, response.CodeUnavailable,
				"One or more dependencies are unavailable", checks)
			return
		}
		response.JSON(w, map[string]any{"status": "ok", "checks": checks})
	}
}

// NewBreakersHandler serves GET /api/v1/breakers.
func NewBreakersHandler(s breaker.Store, providers []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := breaker.Snapshot(r.Context(), s, providers)
		if err != nil {
			slog.Error("reading breakers", "error", err)
			response.Internal(w)
			return
		}
		response.JSON(w, states)
	}
}
