package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notification-pipeline/internal/config"
	"github.com/kursadbilgin/notification-pipeline/internal/handler"
	"github.com/kursadbilgin/notification-pipeline/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-pipeline/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-pipeline/internal/infra/redis"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/repository"
	"github.com/kursadbilgin/notification-pipeline/internal/service"
	"github.com/kursadbilgin/notification-pipeline/internal/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.DatabaseDSN == "" {
		logger.Fatal("DATABASE_DSN is required for the api")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancelStartup := context.WithTimeout(ctx, startupTimeout)
	defer cancelStartup()

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(startupCtx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	defer postgresql.Close(db) //nolint:errcheck

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	rdb, err := infraredis.NewRedis(startupCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.ConnectRetries, cfg.ConnectDelay, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close() //nolint:errcheck

	topology := queue.Topology{Exchange: cfg.Exchange, StatusQueue: cfg.StatusQueue}
	if err := broker.DeclareTopology(startupCtx, topology); err != nil {
		// Publishing answers 503 and the status consumer keeps reconnecting until the broker is back.
		logger.Warn("rabbitmq topology not declared, starting degraded", zap.Error(err))
	}

	statusCache, err := infraredis.NewStatusCache(rdb, cfg.StatusCacheTTL)
	if err != nil {
		logger.Fatal("status cache initialization failed", zap.Error(err))
	}
	statusRepo := repository.NewGormStatusRepo(db)

	publisher := queue.NewPublisher(broker, cfg.Exchange, logger)
	publisher.SetMetrics(metrics)

	notifications, err := service.NewNotificationService(publisher, statusRepo, statusCache, logger)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}

	statuses, err := service.NewStatusService(statusRepo, statusCache, logger)
	if err != nil {
		logger.Fatal("status service initialization failed", zap.Error(err))
	}
	statuses.SetMetrics(metrics)

	statusConsumer, err := queue.NewDurableConsumer(broker, queue.ConsumerConfig{
		Binding:        topology.StatusBinding(),
		Prefetch:       cfg.PrefetchCount,
		Concurrency:    cfg.WorkerConcurrency,
		ReconnectDelay: cfg.ReconnectDelay,
	}, statuses.Handler(), logger)
	if err != nil {
		logger.Fatal("status consumer initialization failed", zap.Error(err))
	}
	statusConsumer.SetMetrics(metrics)
	statusConsumer.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:               "notification-pipeline-api",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app,
		handler.HealthCheck{Name: "rabbitmq", Check: broker.Ping},
		handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterNotificationRoutes(app, notifications); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("notification-pipeline api started", zap.Int("port", cfg.APIPort))
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("http server stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	if err := statusConsumer.Stop(shutdownCtx); err != nil {
		logger.Warn("status consumer did not stop cleanly", zap.Error(err))
	}
	logger.Info("notification-pipeline api stopped")
}
