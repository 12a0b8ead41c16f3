// Package main provides the outbox relay service entry point.
// It publishes committed medication records from the outbox table to Redpanda.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/config"
	"github.com/drfirst/medscan/internal/infrastructure/postgres"
	"github.com/drfirst/medscan/internal/infrastructure/redpanda"
	"github.com/drfirst/medscan/internal/observability/tracing"
)

// publishedRetention is how long published entries stay in the outbox
const publishedRetention = 7 * 24 * time.Hour

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

	tcfg := tracing.DefaultConfig("outbox-relay")
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

	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	relay := postgres.NewRelay(pool, producer, postgres.DefaultOutboxConfig(), logger)
	relay.Start()
	go cleanup(ctx, relay, logger)

	<-ctx.Done()

	logger.Info("shutting down")
	relay.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}
}

// cleanup deletes old published entries and logs the backlog every hour
func cleanup(ctx context.Context, relay *postgres.Relay, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		removed, err := relay.Cleanup(ctx, publishedRetention)
		if err != nil {
			logger.Warn("outbox cleanup failed", zap.Error(err))
			continue
		}
		pending, err := relay.Pending(ctx)
		if err != nil {
			logger.Warn("outbox backlog check failed", zap.Error(err))
			continue
		}
		logger.Info("outbox maintenance", zap.Int64("removed", removed), zap.Int64("pending", pending))
	}
}
