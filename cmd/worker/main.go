package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dokan/internal/common"
	"github.com/noah-isme/backend-dokan/internal/config"
	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/delivery"
	"github.com/noah-isme/backend-dokan/internal/events"
	"github.com/noah-isme/backend-dokan/internal/lock"
	"github.com/noah-isme/backend-dokan/internal/notify"
	"github.com/noah-isme/backend-dokan/internal/obs"
	"github.com/noah-isme/backend-dokan/internal/queue"
	"github.com/noah-isme/backend-dokan/internal/repo"
	"github.com/noah-isme/backend-dokan/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	shipments := repo.ShipmentRepo{DB: pool}
	orders := repo.OrderRepo{DB: pool}
	providers := repo.ProviderRepo{DB: pool}
	domainEvents := repo.DomainEventRepo{DB: pool}

	courierHTTP := &resilience.HTTPClient{
		Client:      &http.Client{},
		Breaker:     resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor),
		BaseBackoff: cfg.CourierRetryBase,
		MaxAttempts: cfg.CourierRetryAttempts,
		Jitter:      cfg.CourierRetryJitter,
		Timeout:     cfg.CourierTimeout,
		Target:      "courier-api",
		Logger:      &logger,
	}

	bus := &events.Bus{
		Store: domainEvents,
		Notifiers: []events.Notifier{notify.EmailNotifier{
			Mail:    common.NopEmailSender{},
			Enabled: cfg.NotifyStatusChanges,
			From:    cfg.NotifyFrom,
		}},
	}

	svc := &delivery.Service{
		Shipments: shipments,
		Orders:    orders,
		Providers: providers,
		Factory:   courier.NewFactory(courierHTTP),
		Events:    bus,
		Log:       logger,
	}
	tracker := &delivery.Tracker{
		Shipments: shipments,
		Orders:    orders,
		Events:    bus,
		Log:       logger,
	}
	refresher := delivery.Refresher{
		Svc:     svc,
		Tracker: tracker,
		Locker:  lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL: cfg.LockTTL,
		Log:     logger,
	}

	scanner := delivery.Scanner{
		Shipments: shipments,
		Queue: queue.Enqueuer{
			R:           redisClient,
			Prefix:      cfg.QueueRedisPrefix,
			DedupTTL:    cfg.QueueDedupTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		},
		Interval:  cfg.RefreshInterval,
		OlderThan: cfg.RefreshInterval,
		Batch:     int32(cfg.RefreshBatchSize),
		Log:       logger,
	}
	go func() {
		if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("refresh scanner stopped with error")
		}
	}()

	refreshWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              delivery.RefreshTaskKind,
		Concurrency:       cfg.RefreshConcurrency,
		VisibilityTimeout: envDurationMillis("QUEUE_VISIBILITY_TIMEOUT_MS", 30000),
		SoftDeadline:      envDurationMillis("WORKER_JOB_SOFT_DEADLINE_MS", 60000),
		RetryBase:         envDurationMillis("QUEUE_BACKOFF_BASE_MS", 5000),
		RetryJitter:       envFloat("QUEUE_BACKOFF_JITTER", 0.2),
		Store:             queue.NewStore(pool),
		Logger:            &logger,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return refresher.Handle(jobCtx, task.Payload)
		},
	}

	logger.Info().Msg("worker starting")
	if err := refreshWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "dokan-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
