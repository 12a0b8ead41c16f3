// Package main provides the capture API service entry point.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/api"
	"github.com/drfirst/medscan/internal/api/middleware"
	"github.com/drfirst/medscan/internal/capture"
	"github.com/drfirst/medscan/internal/config"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/infrastructure/redpanda"
	"github.com/drfirst/medscan/internal/label"
	"github.com/drfirst/medscan/internal/observability/metrics"
	"github.com/drfirst/medscan/internal/observability/tracing"
	"github.com/drfirst/medscan/pkg/circuitbreaker"
)

const (
	serviceName = "capture-api"
	version     = "0.1.0"

	devAPIKey = "dev-api-key"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.ServiceVersion = version
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SampleRate = cfg.TracingSampleRate
	tp, err := tracing.Init(ctx, tcfg, logger)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	// Records are only persisted when a database is reachable
	var (
		pool  *pgxpool.Pool
		store capture.RecordStore
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")
		store = medication.NewRepository(pool, redpanda.TopicMedicationRecords, logger.Named("records"))
	} else {
		logger.Warn("DATABASE_URL not set, committed records will not be stored")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	breakers := circuitbreaker.NewManager(logger.Named("breaker"))

	collab, closeCollab, err := capture.Collaborators(ctx, cfg, pool, breakers, logger)
	if err != nil {
		logger.Fatal("collaborators init failed", zap.Error(err))
	}
	defer closeCollab()

	parser := label.New(logger.Named("label"))
	sessions := scan.NewManager(cfg.SessionIdleTimeout, logger.Named("sessions"))
	controller := scan.NewController(collab, parser, m, logger.Named("controller"))
	svc := capture.NewService(sessions, controller, store, m, logger)

	apiKeys := cfg.APIKeyMap()
	if len(apiKeys) == 0 {
		if !cfg.IsDev() {
			logger.Fatal("API_KEYS is required outside development")
		}
		logger.Warn("API_KEYS not set, accepting the development key", zap.String("key", devAPIKey))
		apiKeys = map[string]string{devAPIKey: "dev"}
	}

	limiter := middleware.NewIPRateLimiter(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst)

	go sessions.Run(ctx, time.Minute)
	go limiter.Run(ctx, 5*time.Minute)
	go observeBreakers(ctx, breakers, m)

	router := api.NewRouter(api.RouterConfig{
		ServiceName: serviceName,
		Version:     version,
		APIKeys:     apiKeys,
		Limiter:     limiter,
		Metrics:     m,
		Ready: func(ctx context.Context) error {
			if pool == nil {
				return nil
			}
			return pool.Ping(ctx)
		},
	}, svc, parser, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting capture API", zap.String("port", cfg.Port), zap.String("ocr_provider", cfg.OCRProvider))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// observeBreakers exports breaker states until ctx ends
func observeBreakers(ctx context.Context, breakers *circuitbreaker.Manager, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ObserveBreakers(breakers.Health())
		}
	}
}
