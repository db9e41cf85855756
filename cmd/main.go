/**
 * @description
 * This is the main entry point for the subscription-tracker. It loads the
 * configuration, opens the store, picks the notification transport, starts the
 * sweep scheduler and serves the HTTP API until a termination signal arrives.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/redis/go-redis/v9: Renew rate limiting.
 * - github.com/joho/godotenv: .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store, internal/notifier.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/subscription-tracker/internal/api"
	"github.com/transfa/subscription-tracker/internal/app"
	"github.com/transfa/subscription-tracker/internal/config"
	"github.com/transfa/subscription-tracker/internal/metrics"
	"github.com/transfa/subscription-tracker/internal/notifier"
	"github.com/transfa/subscription-tracker/internal/store"
	"github.com/transfa/subscription-tracker/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	n, closeNotifier, err := openNotifier(cfg, logger)
	if err != nil {
		logger.Error("failed to configure notifier", "driver", cfg.NotifierDriver, "error", err)
		os.Exit(1)
	}
	defer closeNotifier()

	m, registry := metrics.NewDefault()
	service := app.NewService(repo, logger, nil)
	sweep := app.NewSweepJob(repo, n, m, logger, *cfg, nil)

	handlerOpts := []api.HandlerOption{api.WithMetrics(m)}
	if redisClient := openRedis(cfg, logger); redisClient != nil {
		defer redisClient.Close()
		limiter := app.NewRenewLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.RenewRateLimitPerMinute, time.Minute)
		handlerOpts = append(handlerOpts, api.WithRenewLimiter(limiter))
	}
	if cfg.InternalAPIKey == "" {
		logger.Warn("internal api key not configured; manual sweep endpoint disabled", "env", "INTERNAL_API_KEY")
	}

	handler := api.NewHandler(service, sweep, logger, handlerOpts...)
	router := api.NewRouter(handler, m, registry, api.RouterConfig{
		ClerkJWKSURL:   cfg.ClerkJWKSURL,
		InternalAPIKey: cfg.InternalAPIKey,
	})

	scheduler := app.NewScheduler(sweep, logger, *cfg)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("subscription-tracker listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Wait for a running sweep to finish before the store is closed.
	<-scheduler.Stop().Done()
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("database connection established")

	repo := store.NewPostgresRepository(dbpool)
	if cfg.DBAutoMigrate {
		if err := repo.EnsureSchema(ctx); err != nil {
			dbpool.Close()
			return nil, nil, err
		}
		logger.Info("database schema ensured")
	}
	return repo, dbpool.Close, nil
}

func openNotifier(cfg *config.Config, logger *slog.Logger) (notifier.Notifier, func(), error) {
	switch cfg.NotifierDriver {
	case config.NotifierDriverSMTP:
		n, err := notifier.NewSMTPNotifier(notifier.SMTPConfig{
			Server:   cfg.SMTPServer,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("smtp notifier configured", "server", cfg.SMTPServer, "port", cfg.SMTPPort)
		return n, func() {}, nil
	case config.NotifierDriverRabbitMQ:
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("rabbitmq notifier configured", "exchange", cfg.NotificationExchange)
		return notifier.NewQueueNotifier(producer, cfg.NotificationExchange, logger), producer.Close, nil
	default:
		logger.Warn("no mail transport configured; notifications are only logged")
		return notifier.NewLogNotifier(logger), func() {}, nil
	}
}

// openRedis returns nil when rate limiting is disabled or Redis is unreachable.
func openRedis(cfg *config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RenewRateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; renew rate limiting disabled", "env", "REDIS_URL")
		return nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; renew rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; renew rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
