// Package main provides the status worker entry point.
// It consumes committed records, sweeps active records daily and publishes
// refill and expiration snapshots.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/config"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/infrastructure/redpanda"
	"github.com/drfirst/medscan/internal/observability/metrics"
	"github.com/drfirst/medscan/internal/observability/tracing"
	"github.com/drfirst/medscan/internal/status"
	"github.com/drfirst/medscan/pkg/idempotency"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := tracing.DefaultConfig("status-worker")
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SampleRate = cfg.TracingSampleRate
	tp, err := tracing.Init(ctx, tcfg, logger)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger.Named("inbox"))
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	records := medication.NewRepository(pool, redpanda.TopicMedicationRecords, logger.Named("records"))

	workerCfg := status.DefaultConfig()
	if cfg.StatusSweepInterval > 0 {
		workerCfg.SweepInterval = cfg.StatusSweepInterval
	}
	worker, err := status.NewWorker(workerCfg, producer, inbox, records, m, logger.Named("status"))
	if err != nil {
		logger.Fatal("worker creation failed", zap.Error(err))
	}
	worker.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(consumerCfg, worker.HandleMessage, logger.Named("consumer"))
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.WithDeadLetter(producer).Start()

	go worker.Run(ctx)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status":   "healthy",
			"service":  "status-worker",
			"worker":   worker.Stats(),
			"consumer": consumer.Stats(),
			"producer": producer.Stats(),
		}
		if counts, err := inbox.Counts(r.Context(), status.HandlerName); err == nil {
			body["inbox"] = counts
		} else {
			logger.Warn("inbox counts unavailable", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		checks := map[string]string{"database": "ok", "broker": "ok"}
		code := http.StatusOK
		if err := pool.Ping(ctx); err != nil {
			checks["database"], code = err.Error(), http.StatusServiceUnavailable
		}
		if err := producer.Ping(ctx); err != nil {
			checks["broker"], code = err.Error(), http.StatusServiceUnavailable
		}
		writeJSON(w, code, checks)
	})
	r.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("status worker started", zap.Duration("sweep_interval", workerCfg.SweepInterval))
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := worker.Stop(); err != nil {
		logger.Error("worker stop error", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}

	logger.Info("status worker stopped",
		zap.Any("worker", worker.Stats()),
		zap.Any("consumer", consumer.Stats()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
