package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/SparingSoftware/getpaid-go/pkg/config"
)

// Config holds all configuration for the getpaid service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"GETPAID_HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"getpaid"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"getpaid_secret"`
	PostgresDB   string `env:"GETPAID_DB_NAME" envDefault:"getpaid_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (callback deduplication)
	RedisHost     string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	DedupTTL      time.Duration `env:"CALLBACK_DEDUP_TTL" envDefault:"24h"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Status poller
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"1m"`
	PollGrace       time.Duration `env:"POLL_GRACE" envDefault:"5m"`
	PendingDeadline time.Duration `env:"PENDING_DEADLINE" envDefault:"24h"`
	PollBatchSize   int           `env:"POLL_BATCH_SIZE" envDefault:"100"`

	// Dummy broker
	DummySecret  string `env:"DUMMY_BROKER_SECRET" envDefault:"dummy-dev-secret"`
	DummyPaywall string `env:"DUMMY_BROKER_PAYWALL_URL" envDefault:""`

	// WebPay broker
	WebpayEnabled       bool   `env:"WEBPAY_ENABLED" envDefault:"false"`
	WebpayBaseURL       string `env:"WEBPAY_BASE_URL" envDefault:""`
	WebpayAPIKey        string `env:"WEBPAY_API_KEY" envDefault:""`
	WebpayWebhookSecret string `env:"WEBPAY_WEBHOOK_SECRET" envDefault:""`
	WebpayCallbackURL   string `env:"WEBPAY_CALLBACK_URL" envDefault:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load getpaid config: %w", err)
	}
	if cfg.WebpayEnabled && (cfg.WebpayBaseURL == "" || cfg.WebpayAPIKey == "" || cfg.WebpayWebhookSecret == "") {
		return nil, fmt.Errorf("webpay broker enabled but base URL, API key, or webhook secret is missing")
	}
	return cfg, nil
}
