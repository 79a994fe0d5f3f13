package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/internal/realtime"
	"github.com/jwalitptl/queue-api/internal/repository/postgres"
	queueService "github.com/jwalitptl/queue-api/internal/service/queue"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/messaging/redis"
	"github.com/jwalitptl/queue-api/pkg/metrics"
	"github.com/jwalitptl/queue-api/pkg/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:  logger.InfoLevel,
		Pretty: os.Getenv("LOG_PRETTY") == "true",
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, appLogger.ZL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	tokenRepo := postgres.NewTokenRepository(db)
	deptRepo := postgres.NewDepartmentRepository(db)
	visitRepo := postgres.NewVisitRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)
	txRunner := postgres.NewTxRunner(db)

	appMetrics := metrics.NewMetrics("queue_worker")
	dispatcher := realtime.NewDispatcher(broker, appLogger, appMetrics)

	queueSvc := queueService.NewService(
		tokenRepo, deptRepo, visitRepo, outboxRepo, txRunner, dispatcher,
		appLogger, appMetrics,
		queueService.Config{PreviewTTL: cfg.Queue.PreviewTTL},
	)

	processor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
	}, appLogger, appMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Start(ctx)

	scheduler := cron.New()

	if _, err := scheduler.AddFunc(cfg.Queue.SweepSchedule, func() {
		swept, err := queueSvc.SweepNoShows(ctx, cfg.Queue.NoShowGrace)
		if err != nil {
			appLogger.Error(err, "no-show sweep failed")
			return
		}
		if swept > 0 {
			appLogger.Info("no-show sweep finished", "swept", swept)
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule no-show sweep")
	}

	if _, err := scheduler.AddFunc("@hourly", func() {
		deleted, err := outboxRepo.DeleteProcessedBefore(ctx, time.Now().Add(-cfg.Outbox.RetainFor))
		if err != nil {
			appLogger.Error(err, "outbox cleanup failed")
			return
		}
		if deleted > 0 {
			appLogger.Info("outbox cleanup finished", "deleted", deleted)
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule outbox cleanup")
	}

	scheduler.Start()
	setupHealthCheck(appLogger, db)

	appLogger.Info("worker started",
		"sweep_schedule", cfg.Queue.SweepSchedule,
		"no_show_grace", cfg.Queue.NoShowGrace.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down worker")
	cancel()
	<-scheduler.Stop().Done()
	appLogger.Info("worker stopped")
}

func setupHealthCheck(appLogger *logger.Logger, db interface{ Ping() error }) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			appLogger.Error(err, "health check server failed")
		}
	}()
}
