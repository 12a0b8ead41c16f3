// Package api assembles the capture HTTP API.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/api/handlers"
	"github.com/drfirst/medscan/internal/api/middleware"
	"github.com/drfirst/medscan/internal/capture"
	"github.com/drfirst/medscan/internal/label"
	"github.com/drfirst/medscan/internal/observability/metrics"
)

// RouterConfig holds what the router needs beyond the capture service
type RouterConfig struct {
	ServiceName string
	Version     string
	APIKeys     map[string]string
	// Limiter throttles /api/v1 per client IP; nil disables it
	Limiter *middleware.IPRateLimiter
	// Metrics records HTTP metrics and serves /metrics; nil disables both
	Metrics *metrics.Metrics
	// Ready backs /ready; nil always reports ready
	Ready func(ctx context.Context) error
}

// NewRouter builds the capture API router
func NewRouter(cfg RouterConfig, svc *capture.Service, parser *label.Parser, logger *zap.Logger) chi.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "capture-api"
	}

	sessions := handlers.NewSessionHandler(svc, logger.Named("sessions"))
	records := handlers.NewRecordHandler(svc, logger.Named("records"))
	tools := handlers.NewToolHandler(parser, logger.Named("tools"))

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":%q,"sessions":%d}`,
			cfg.ServiceName, cfg.Version, svc.Sessions().Len())
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/sessions", sessions.Routes())
		r.Mount("/records", records.Routes())
		r.Post("/labels/parse", tools.ParseLabel)
		r.Post("/projections", tools.Project)
	})

	return r
}
