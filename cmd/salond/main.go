// Command salond runs the booking core HTTP service with its outbox delivery
// runner.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carosellagiuliano-max/codeccloud-core/auth"
	"github.com/carosellagiuliano-max/codeccloud-core/calendar"
	"github.com/carosellagiuliano-max/codeccloud-core/config"
	"github.com/carosellagiuliano-max/codeccloud-core/engine"
	"github.com/carosellagiuliano-max/codeccloud-core/httpapi"
	"github.com/carosellagiuliano-max/codeccloud-core/idempotency"
	"github.com/carosellagiuliano-max/codeccloud-core/log"
	"github.com/carosellagiuliano-max/codeccloud-core/mq"
	"github.com/carosellagiuliano-max/codeccloud-core/outbox"
	"github.com/carosellagiuliano-max/codeccloud-core/ratelimit"
	"github.com/carosellagiuliano-max/codeccloud-core/webhook"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger, err := log.NewZap(level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := engine.NewDB()

	authService, err := buildAuthService(cfg.APITokens)
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()
	}

	limiter := buildLimiter(cfg, redisClient)
	coordinator := buildCoordinator(cfg, redisClient)

	runner, publisher, err := buildOutboxRunner(cfg, db, logger)
	if err != nil {
		return err
	}

	if publisher != nil {
		defer func() { _ = publisher.Close() }()
	}

	serverCfg := httpapi.Config{
		DB:          db,
		Auth:        authService,
		Limiter:     limiter,
		Idempotency: coordinator,
		Logger:      logger,
	}

	if cfg.StripeWebhookSecret != "" {
		serverCfg.Stripe, err = webhook.NewStripeVerifier(cfg.StripeWebhookSecret, cfg.StripeTolerance)
		if err != nil {
			return err
		}
	}

	if cfg.SumUpWebhookSecret != "" {
		var allowlist *webhook.IPAllowlist
		if len(cfg.SumUpAllowlist) > 0 {
			allowlist, err = webhook.NewIPAllowlist(cfg.SumUpAllowlist)
			if err != nil {
				return err
			}
		}

		serverCfg.SumUp, err = webhook.NewSumUpVerifier(cfg.SumUpWebhookSecret, cfg.SumUpTolerance, allowlist)
		if err != nil {
			return err
		}

		if cfg.SumUpClientID != "" {
			serverCfg.SumUpAPI, err = webhook.NewSumUpClient(webhook.SumUpClientConfig{
				BaseURL:      cfg.SumUpBaseURL,
				ClientID:     cfg.SumUpClientID,
				ClientSecret: cfg.SumUpClientSecret,
			})
			if err != nil {
				return err
			}
		}
	}

	if cfg.CalendarFeedSecret != "" {
		serverCfg.FeedSigner, err = calendar.NewTokenSigner(cfg.CalendarFeedSecret)
		if err != nil {
			return err
		}
	}

	server, err := httpapi.NewServer(serverCfg)
	if err != nil {
		return err
	}

	app := server.Router()

	go func() {
		if err := runner.Run(ctx); err != nil {
			logger.Log(ctx, log.LevelError, "outbox runner exited", log.Err(err))
		}
	}()

	go func() {
		logger.Log(ctx, log.LevelInfo, "http server listening", log.String("addr", cfg.HTTPAddr))

		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Log(ctx, log.LevelError, "http server exited", log.Err(err))
			stop()
		}
	}()

	<-ctx.Done()

	logger.Log(context.Background(), log.LevelInfo, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Log(context.Background(), log.LevelWarn, "http shutdown incomplete", log.Err(err))
	}

	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Log(context.Background(), log.LevelWarn, "outbox shutdown incomplete", log.Err(err))
	}

	return nil
}

func buildAuthService(entries []string) (*auth.Service, error) {
	tokens := make([]auth.Token, 0, len(entries))

	for _, entry := range entries {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed API token entry %q", entry)
		}

		tenantID, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed tenant id in API token entry %q: %w", entry, err)
		}

		token := auth.Token{Token: parts[0], TenantID: tenantID, UserID: uuid.New()}
		if len(parts) == 3 {
			token.Roles = strings.Split(parts[2], ",")
		}

		tokens = append(tokens, token)
	}

	return auth.NewService(tokens...), nil
}

func buildLimiter(cfg *config.Config, redisClient redis.UniversalClient) *ratelimit.Limiter {
	var store ratelimit.Store
	if redisClient != nil {
		store = ratelimit.NewRedisStore(redisClient)
	}

	return ratelimit.New(ratelimit.Config{
		Window: cfg.RateLimitWindow,
		Max:    cfg.RateLimitMax,
	}, store)
}

func buildCoordinator(cfg *config.Config, redisClient redis.UniversalClient) *idempotency.Coordinator {
	var store idempotency.Store
	if redisClient != nil {
		store = idempotency.NewRedisStore(redisClient, cfg.IdempotencyTTL)
	}

	return idempotency.NewCoordinator(store, cfg.IdempotencyTTL)
}

func buildOutboxRunner(cfg *config.Config, db *engine.DB, logger log.Logger) (*outbox.Runner, *mq.Publisher, error) {
	handlers := outbox.NewHandlerRegistry()

	var publisher *mq.Publisher

	if cfg.AMQPURL != "" {
		var err error

		publisher, err = mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return nil, nil, err
		}

		if err := handlers.Register(outbox.WildcardEventType, publisher.OutboxHandler()); err != nil {
			return nil, nil, err
		}
	} else {
		// Without a broker the events are drained to the log so the outbox
		// never grows unbounded in single-process deployments.
		if err := handlers.Register(outbox.WildcardEventType, func(ctx context.Context, event *engine.OutboxEvent) error {
			logger.Log(ctx, log.LevelInfo, "outbox event delivered",
				log.String("event_id", event.ID.String()),
				log.String("event_type", event.EventType),
			)

			return nil
		}); err != nil {
			return nil, nil, err
		}
	}

	runner, err := outbox.NewRunner(
		db,
		handlers,
		logger,
		nil,
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithBaseBackoff(cfg.OutboxBaseBackoff),
		outbox.WithJitterRatio(cfg.OutboxJitterRatio),
	)
	if err != nil {
		if publisher != nil {
			_ = publisher.Close()
		}

		return nil, nil, err
	}

	return runner, publisher, nil
}
