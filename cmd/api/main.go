package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/internal/email"
	"github.com/jwalitptl/queue-api/internal/handler"
	authHandler "github.com/jwalitptl/queue-api/internal/handler/auth"
	deptHandler "github.com/jwalitptl/queue-api/internal/handler/department"
	streamHandler "github.com/jwalitptl/queue-api/internal/handler/stream"
	tokenHandler "github.com/jwalitptl/queue-api/internal/handler/token"
	visitHandler "github.com/jwalitptl/queue-api/internal/handler/visit"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/realtime"
	"github.com/jwalitptl/queue-api/internal/repository/postgres"
	"github.com/jwalitptl/queue-api/internal/router"
	authService "github.com/jwalitptl/queue-api/internal/service/auth"
	deptService "github.com/jwalitptl/queue-api/internal/service/department"
	queueService "github.com/jwalitptl/queue-api/internal/service/queue"
	visitService "github.com/jwalitptl/queue-api/internal/service/visit"
	"github.com/jwalitptl/queue-api/pkg/auth"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/messaging/redis"
	"github.com/jwalitptl/queue-api/pkg/metrics"
	"github.com/jwalitptl/queue-api/pkg/validator"
)

func main() {
	// Local development overrides; absent in production.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:  logger.InfoLevel,
		Pretty: os.Getenv("LOG_PRETTY") == "true",
	})

	if err := validator.RegisterCustomValidations(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validations")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Repositories
	accountRepo := postgres.NewAccountRepository(db)
	securityRepo := postgres.NewLoginSecurityRepository(db)
	recoveryRepo := postgres.NewRecoveryCodeRepository(db)
	resetRepo := postgres.NewPasswordResetRepository(db)
	deptRepo := postgres.NewDepartmentRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	visitRepo := postgres.NewVisitRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)
	txRunner := postgres.NewTxRunner(db)

	appMetrics := metrics.NewMetrics("queue_api")

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

	dispatcher := realtime.NewDispatcher(broker, appLogger, appMetrics)

	jwtSvc := auth.NewJWTService(auth.JWTConfig{
		Secret:             cfg.JWT.Secret,
		RefreshSecret:      cfg.JWT.RefreshSecret,
		ExpiryHours:        cfg.JWT.ExpiryHours,
		RefreshExpiryHours: cfg.JWT.RefreshExpiryHours,
	})

	emailSvc := email.NewService(email.Config{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	})

	// Services
	throttle := authService.NewThrottle(securityRepo)
	authSvc := authService.NewService(
		accountRepo, recoveryRepo, resetRepo, throttle, jwtSvc, emailSvc,
		appLogger, appMetrics,
		authService.Config{
			BcryptCost:        cfg.Auth.BcryptCost,
			RecoveryCodeCount: cfg.Auth.RecoveryCodeCount,
			ResetTokenExpiry:  time.Duration(cfg.Auth.ResetTokenExpiryHr) * time.Hour,
		},
	)
	queueSvc := queueService.NewService(
		tokenRepo, deptRepo, visitRepo, outboxRepo, txRunner, dispatcher,
		appLogger, appMetrics,
		queueService.Config{PreviewTTL: cfg.Queue.PreviewTTL},
	)
	deptSvc := deptService.NewService(deptRepo, appLogger)
	visitSvc := visitService.NewService(visitRepo)

	// Handlers
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)
	h := handler.NewHandler(db)
	authH := authHandler.NewHandler(authSvc)
	tokenH := tokenHandler.NewHandler(queueSvc)
	deptH := deptHandler.NewHandler(deptSvc)
	visitH := visitHandler.NewHandler(visitSvc)
	streamH := streamHandler.NewHandler(dispatcher, appLogger)

	r := router.NewRouter(
		authMiddleware, authH, tokenH, deptH, visitH, streamH, h,
		router.RouterConfig{
			RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
			RateLimitBurst: cfg.RateLimit.Burst,
			RequestTimeout: 30 * time.Second,
			CORSConfig:     middleware.DefaultCORSConfig(),
			MetricsPrefix:  "queue_api",
		},
	)
	r.Setup()

	// WriteTimeout stays unset: SSE connections outlive any fixed deadline.
	// REST handlers are bounded by the router's request timeout instead.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r.Engine(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		appLogger.Info("starting API server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	appLogger.Info("server stopped")
}
