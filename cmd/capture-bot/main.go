// Package main runs the Telegram capture bot.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/bot"
	"github.com/drfirst/medscan/internal/capture"
	"github.com/drfirst/medscan/internal/config"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/infrastructure/redpanda"
	"github.com/drfirst/medscan/internal/label"
	"github.com/drfirst/medscan/internal/observability/metrics"
	"github.com/drfirst/medscan/pkg/circuitbreaker"
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
	if cfg.TelegramBotToken == "" {
		logger.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		store = medication.NewRepository(pool, redpanda.TopicMedicationRecords, logger.Named("records"))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	breakers := circuitbreaker.NewManager(logger.Named("breaker"))
	collab, closeCollab, err := capture.Collaborators(ctx, cfg, pool, breakers, logger)
	if err != nil {
		logger.Fatal("collaborators init failed", zap.Error(err))
	}
	defer closeCollab()

	sessions := scan.NewManager(cfg.SessionIdleTimeout, logger.Named("sessions"))
	controller := scan.NewController(collab, label.New(logger.Named("label")), m, logger.Named("controller"))
	svc := capture.NewService(sessions, controller, store, m, logger)
	go sessions.Run(ctx, time.Minute)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal("telegram login failed", zap.Error(err))
	}
	api.Debug = cfg.LogLevel == "debug"
	logger.Info("authorized on telegram", zap.String("username", api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		logger.Info("stopping updates")
		api.StopReceivingUpdates()
	}()

	bot.New(api, svc, nil, logger.Named("bot")).Run(ctx, updates)
	logger.Info("capture bot stopped")
}
