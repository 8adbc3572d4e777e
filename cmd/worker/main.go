package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/notification-pipeline/internal/client"
	"github.com/kursadbilgin/notification-pipeline/internal/config"
	"github.com/kursadbilgin/notification-pipeline/internal/delivery"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/handler"
	infraredis "github.com/kursadbilgin/notification-pipeline/internal/infra/redis"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/ratelimit"
	"github.com/kursadbilgin/notification-pipeline/internal/service"
	"github.com/kursadbilgin/notification-pipeline/internal/status"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	channel, err := domain.ParseNotificationType(cfg.WorkerChannel)
	if err != nil {
		logger.Fatal("invalid WORKER_CHANNEL", zap.Error(err))
	}
	logger = logger.With(zap.String("channel", channel.String()))

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancelStartup := context.WithTimeout(ctx, startupTimeout)
	defer cancelStartup()

	metrics := observability.NewMetrics()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.ConnectRetries, cfg.ConnectDelay, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close() //nolint:errcheck

	topology := queue.Topology{Exchange: cfg.Exchange, StatusQueue: cfg.StatusQueue}
	if err := broker.DeclareTopology(startupCtx, topology); err != nil {
		logger.Warn("rabbitmq topology not declared, consumer will retry", zap.Error(err))
	}

	rdb, err := infraredis.NewRedis(startupCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RateLimitPerSec > 0 {
		limiter, err = infraredis.NewDeliveryThrottle(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("delivery throttle initialization failed", zap.Error(err))
		}
	}

	httpClient := resty.New().
		SetTimeout(cfg.DeliveryTimeout).
		SetRetryCount(0)

	users, err := client.NewUserClient(cfg.UserServiceURL, httpClient)
	if err != nil {
		logger.Fatal("user client initialization failed", zap.Error(err))
	}
	templates, err := client.NewTemplateClient(cfg.TemplateServiceURL, httpClient)
	if err != nil {
		logger.Fatal("template client initialization failed", zap.Error(err))
	}

	sender, err := newTransport(startupCtx, cfg, channel, httpClient, logger)
	if err != nil {
		logger.Fatal("delivery transport initialization failed", zap.Error(err))
	}

	resolver := delivery.NewAttachmentResolver(cfg.DeliveryTimeout).
		Register(delivery.NewHTTPFetcher(httpClient), "http", "https")
	if cfg.S3Region != "" {
		s3Fetcher, err := delivery.NewS3FetcherFromConfig(startupCtx, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			logger.Fatal("s3 fetcher initialization failed", zap.Error(err))
		}
		resolver.Register(s3Fetcher, "s3")
	}

	statusPublisher := queue.NewPublisher(broker, "", logger)
	statusPublisher.SetMetrics(metrics)
	failedPublisher := queue.NewPublisher(broker, cfg.Exchange, logger)
	failedPublisher.SetMetrics(metrics)

	reporter, err := status.NewReporter(statusPublisher, failedPublisher, cfg.StatusQueue, logger)
	if err != nil {
		logger.Fatal("status reporter initialization failed", zap.Error(err))
	}
	reporter.SetMetrics(metrics)

	executor, err := delivery.NewExecutor(sender, resolver, reporter, delivery.Config{
		MaxAttempts: cfg.DeliveryMaxAttempts,
		BackoffUnit: cfg.DeliveryBackoffUnit,
		BackoffCap:  cfg.DeliveryBackoffCap,
		Timeout:     cfg.DeliveryTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("executor initialization failed", zap.Error(err))
	}
	executor.SetMetrics(metrics)

	worker, err := service.NewDeliveryWorker(channel, users, templates, executor, reporter, limiter, logger)
	if err != nil {
		logger.Fatal("delivery worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	consumer, err := queue.NewDurableConsumer(broker, queue.ConsumerConfig{
		Binding:        topology.WorkBinding(channel),
		Prefetch:       cfg.PrefetchCount,
		Concurrency:    cfg.WorkerConcurrency,
		ReconnectDelay: cfg.ReconnectDelay,
	}, worker.Handler(), logger)
	if err != nil {
		logger.Fatal("consumer initialization failed", zap.Error(err))
	}
	consumer.SetMetrics(metrics)
	consumer.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:               "notification-pipeline-worker",
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app,
		handler.HealthCheck{Name: "rabbitmq", Check: broker.Ping},
		handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("notification-pipeline worker started",
		zap.String("queue", topology.WorkBinding(channel).Queue),
		zap.Int("metricsPort", cfg.MetricsPort),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.Warn("consumer did not stop cleanly", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	logger.Info("notification-pipeline worker stopped")
}

func newTransport(ctx context.Context, cfg *config.Config, channel domain.NotificationType, httpClient *resty.Client, logger *zap.Logger) (delivery.Transport, error) {
	if channel == domain.TypePush {
		if cfg.FCMProjectID == "" {
			logger.Warn("FCM_PROJECT_ID not set, push notifications are only logged")
			return delivery.NewLogTransport(logger), nil
		}
		fcm, err := delivery.NewFCMTransport(ctx, cfg.FCMProjectID, cfg.FCMCredentialsFile, logger)
		if err != nil {
			return nil, err
		}
		return withBreaker(cfg, "fcm", fcm, logger)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.EmailTransport)) {
	case "", "log":
		return delivery.NewLogTransport(logger), nil
	case "postmark":
		pm, err := delivery.NewPostmarkTransport(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.EmailFrom)
		if err != nil {
			return nil, err
		}
		return withBreaker(cfg, "postmark", pm, logger)
	case "webhook":
		wh, err := delivery.NewWebhookTransport(cfg.WebhookURL, httpClient)
		if err != nil {
			return nil, err
		}
		return withBreaker(cfg, "webhook", wh, logger)
	default:
		return nil, fmt.Errorf("unknown EMAIL_TRANSPORT %q, want log, postmark or webhook", cfg.EmailTransport)
	}
}

func withBreaker(cfg *config.Config, name string, next delivery.Transport, logger *zap.Logger) (delivery.Transport, error) {
	breaker, err := delivery.NewBreakerTransport(name, next, delivery.BreakerConfig{
		MaxRequests:      cfg.CircuitMaxRequests,
		FailureThreshold: cfg.CircuitFailures,
		Interval:         cfg.CircuitInterval,
		Timeout:          cfg.CircuitTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return breaker, nil
}
