package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/SparingSoftware/getpaid-go/internal/broker"
	"github.com/SparingSoftware/getpaid-go/internal/broker/dummy"
	"github.com/SparingSoftware/getpaid-go/internal/broker/webpay"
	"github.com/SparingSoftware/getpaid-go/internal/config"
	"github.com/SparingSoftware/getpaid-go/internal/event"
	handler "github.com/SparingSoftware/getpaid-go/internal/handler/http"
	"github.com/SparingSoftware/getpaid-go/internal/repository/postgres"
	"github.com/SparingSoftware/getpaid-go/internal/service"
	"github.com/SparingSoftware/getpaid-go/migrations"
	"github.com/SparingSoftware/getpaid-go/pkg/database"
	"github.com/SparingSoftware/getpaid-go/pkg/health"
	pkgkafka "github.com/SparingSoftware/getpaid-go/pkg/kafka"
)

// App wires together all dependencies and runs the service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	redis      *redis.Client
	producer   *pkgkafka.Producer
	poller     *service.Poller
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// PostgreSQL connection pool plus schema migrations.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Redis for callback deduplication.
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("host", cfg.RedisHost))

	// Kafka producer for domain events.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Broker registry.
	brokers := []broker.Broker{
		dummy.New(cfg.DummySecret, cfg.DummyPaywall),
	}
	if cfg.WebpayEnabled {
		brokers = append(brokers, webpay.New(webpay.Config{
			BaseURL:       cfg.WebpayBaseURL,
			APIKey:        cfg.WebpayAPIKey,
			WebhookSecret: cfg.WebpayWebhookSecret,
			CallbackURL:   cfg.WebpayCallbackURL,
		}, logger))
	}
	registry, err := broker.NewRegistry(brokers...)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("build broker registry: %w", err)
	}

	// Build the dependency graph.
	repo := postgres.NewPaymentRepository(pool)
	eventProducer := event.NewProducer(producer, logger)
	dedup := service.NewRedisDedupStore(redisClient, cfg.DedupTTL)

	paymentService := service.NewPaymentService(repo, registry, eventProducer, logger)
	reconciler := service.NewReconciler(repo, registry, dedup, eventProducer, logger)

	pollerCfg := service.DefaultPollerConfig()
	pollerCfg.Interval = cfg.PollInterval
	pollerCfg.Grace = cfg.PollGrace
	pollerCfg.PendingDeadline = cfg.PendingDeadline
	pollerCfg.BatchSize = cfg.PollBatchSize
	poller := service.NewPoller(repo, registry, eventProducer, pollerCfg, logger)

	// Health checks. Postgres is the only critical dependency: callback
	// dedup degrades to state checks without Redis and events queue up
	// while Kafka is unreachable.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	router := handler.NewRouter(paymentService, reconciler, healthHandler, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		redis:      redisClient,
		producer:   producer,
		poller:     poller,
		httpServer: httpServer,
	}, nil
}

// Run starts the HTTP server and the status poller and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	pollerCtx, stopPoller := context.WithCancel(ctx)
	defer stopPoller()
	go a.poller.Run(pollerCtx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return nil
}
