package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Outbound courier HTTP behaviour.
	CourierTimeout        time.Duration
	CourierRetryBase      time.Duration
	CourierRetryAttempts  int
	CourierRetryJitter    float64
	CircuitMinRequests    int
	CircuitFailureRate    float64
	CircuitOpenFor        time.Duration

	// Reconciliation serialisation.
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	// Background status refresh.
	RefreshInterval    time.Duration
	RefreshBatchSize   int
	RefreshConcurrency int
	QueueRedisPrefix   string
	QueueMaxAttempts   int
	QueueDedupTTL      time.Duration

	// Webhook replay protection.
	WebhookReplayTTL time.Duration

	// Notification toggles (delivery mechanics are placeholder only).
	NotifyStatusChanges bool
	NotifyFrom          string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CourierTimeout:       parseDuration(k.String("COURIER_HTTP_TIMEOUT"), "10s"),
		CourierRetryBase:     parseDuration(k.String("COURIER_RETRY_BASE"), "200ms"),
		CourierRetryAttempts: intOrDefault(k.Int("COURIER_RETRY_ATTEMPTS"), 3),
		CourierRetryJitter:   floatOrDefault(k.Float64("COURIER_RETRY_JITTER"), 0.2),
		CircuitMinRequests:   intOrDefault(k.Int("COURIER_CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate:   floatOrDefault(k.Float64("COURIER_CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:       parseDuration(k.String("COURIER_CIRCUIT_OPEN_FOR"), "30s"),

		LockTTL:          parseDuration(k.String("RECONCILE_LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("RECONCILE_LOCK_RETRY"), "50ms"),

		RefreshInterval:    parseDuration(k.String("SHIPMENT_REFRESH_INTERVAL"), "10m"),
		RefreshBatchSize:   intOrDefault(k.Int("SHIPMENT_REFRESH_BATCH"), 50),
		RefreshConcurrency: intOrDefault(k.Int("SHIPMENT_REFRESH_CONCURRENCY"), 4),
		QueueRedisPrefix:   valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "dokan"),
		QueueMaxAttempts:   intOrDefault(k.Int("QUEUE_MAX_ATTEMPTS"), 5),
		QueueDedupTTL:      parseDuration(k.String("QUEUE_DEDUP_TTL"), "1h"),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		NotifyStatusChanges: parseBool(valueOrDefault(k.String("NOTIFY_STATUS_CHANGES"), "true")),
		NotifyFrom:          valueOrDefault(k.String("NOTIFY_FROM"), "no-reply@dokan.example"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func floatOrDefault(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
