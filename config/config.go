// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries every tunable of the service. Values come from SALON_*
// environment variables.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeTolerance     time.Duration `envconfig:"STRIPE_TOLERANCE" default:"300s"`

	SumUpWebhookSecret string        `envconfig:"SUMUP_WEBHOOK_SECRET"`
	SumUpTolerance     time.Duration `envconfig:"SUMUP_TOLERANCE" default:"300s"`
	SumUpAllowlist     []string      `envconfig:"SUMUP_ALLOWLIST"`
	SumUpClientID      string        `envconfig:"SUMUP_CLIENT_ID"`
	SumUpClientSecret  string        `envconfig:"SUMUP_CLIENT_SECRET"`
	SumUpBaseURL       string        `envconfig:"SUMUP_BASE_URL"`

	CalendarFeedSecret string `envconfig:"CALENDAR_FEED_SECRET"`

	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitMax    int64         `envconfig:"RATE_LIMIT_MAX" default:"120"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"5s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"10"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"5"`
	OutboxBaseBackoff  time.Duration `envconfig:"OUTBOX_BASE_BACKOFF" default:"1s"`
	OutboxJitterRatio  float64       `envconfig:"OUTBOX_JITTER_RATIO" default:"0.25"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"salon.events"`

	// APITokens seeds the bearer token registry. Each entry has the form
	// "<token>:<tenant uuid>[:role,role...]".
	APITokens []string `envconfig:"API_TOKENS"`
}

// Load reads SALON_* environment variables into a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("salon", cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints the tag defaults cannot express.
func (cfg *Config) Validate() error {
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("config: rate limit window must be positive")
	}

	if cfg.RateLimitMax <= 0 {
		return fmt.Errorf("config: rate limit max must be positive")
	}

	if cfg.IdempotencyTTL <= 0 {
		return fmt.Errorf("config: idempotency TTL must be positive")
	}

	if cfg.OutboxJitterRatio < 0 {
		return fmt.Errorf("config: outbox jitter ratio must not be negative")
	}

	if cfg.AMQPURL != "" && cfg.AMQPExchange == "" {
		return fmt.Errorf("config: AMQP exchange is required when an AMQP URL is set")
	}

	return nil
}
