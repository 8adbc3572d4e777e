package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	RabbitMQURL          string        `env:"RABBITMQ_URL,required=true"`
	RedisURL             string        `env:"REDIS_URL,required=true"`
	DatabaseDSN          string        `env:"DATABASE_DSN"`
	Exchange             string        `env:"RABBITMQ_EXCHANGE,default=notifications.direct"`
	StatusQueue          string        `env:"RABBITMQ_STATUS_QUEUE,default=status.queue"`
	PrefetchCount        int           `env:"RABBITMQ_PREFETCH,default=10"`
	ReconnectDelay       time.Duration `env:"RABBITMQ_RECONNECT_DELAY,default=5s"`
	ConnectRetries       int           `env:"RABBITMQ_CONNECT_RETRIES,default=5"`
	ConnectDelay         time.Duration `env:"RABBITMQ_CONNECT_DELAY,default=5s"`
	WorkerChannel        string        `env:"WORKER_CHANNEL,default=email"`
	WorkerConcurrency    int           `env:"WORKER_CONCURRENCY,default=4"`
	DeliveryMaxAttempts  int           `env:"DELIVERY_MAX_ATTEMPTS,default=3"`
	DeliveryBackoffUnit  time.Duration `env:"DELIVERY_BACKOFF_UNIT,default=1s"`
	DeliveryBackoffCap   time.Duration `env:"DELIVERY_BACKOFF_CAP,default=5s"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=30s"`
	CircuitMaxRequests   uint32        `env:"CIRCUIT_MAX_REQUESTS,default=1"`
	CircuitFailures      uint32        `env:"CIRCUIT_FAILURE_THRESHOLD,default=5"`
	CircuitInterval      time.Duration `env:"CIRCUIT_INTERVAL,default=60s"`
	CircuitTimeout       time.Duration `env:"CIRCUIT_TIMEOUT,default=30s"`
	StatusCacheTTL       time.Duration `env:"STATUS_CACHE_TTL,default=1h"`
	UserServiceURL       string        `env:"USER_SERVICE_URL"`
	TemplateServiceURL   string        `env:"TEMPLATE_SERVICE_URL"`
	EmailTransport       string        `env:"EMAIL_TRANSPORT,default=log"`
	EmailFrom            string        `env:"EMAIL_FROM"`
	WebhookURL           string        `env:"WEBHOOK_URL"`
	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN"`
	FCMProjectID         string        `env:"FCM_PROJECT_ID"`
	FCMCredentialsFile   string        `env:"FCM_CREDENTIALS_FILE"`
	S3Region             string        `env:"S3_REGION"`
	S3Endpoint           string        `env:"S3_ENDPOINT"`
	RateLimitPerSec      int           `env:"RATE_LIMIT_PER_SEC,default=100"`
	APIPort              int           `env:"API_PORT,default=8080"`
	MetricsPort          int           `env:"METRICS_PORT,default=9090"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
