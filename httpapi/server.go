// Package httpapi exposes the booking core over HTTP. It composes the auth
// resolver, rate limiter and idempotency coordinator in front of the
// transaction engine and renders every failure as a problem document.
package httpapi

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/carosellagiuliano-max/codeccloud-core/auth"
	"github.com/carosellagiuliano-max/codeccloud-core/calendar"
	"github.com/carosellagiuliano-max/codeccloud-core/engine"
	"github.com/carosellagiuliano-max/codeccloud-core/idempotency"
	"github.com/carosellagiuliano-max/codeccloud-core/log"
	"github.com/carosellagiuliano-max/codeccloud-core/ratelimit"
	"github.com/carosellagiuliano-max/codeccloud-core/webhook"
)

// Server wires the HTTP surface over the core components.
type Server struct {
	db       *engine.DB
	auth     *auth.Service
	limiter  *ratelimit.Limiter
	idem     *idempotency.Coordinator
	stripe   *webhook.StripeVerifier
	sumup    *webhook.SumUpVerifier
	sumupAPI *webhook.SumUpClient
	feed     *calendar.TokenSigner
	logger   log.Logger
}

// Config collects the collaborators a server needs. Stripe, SumUp and feed
// components may be nil; their routes then answer 404.
type Config struct {
	DB          *engine.DB
	Auth        *auth.Service
	Limiter     *ratelimit.Limiter
	Idempotency *idempotency.Coordinator
	Stripe      *webhook.StripeVerifier
	SumUp       *webhook.SumUpVerifier
	SumUpAPI    *webhook.SumUpClient
	FeedSigner  *calendar.TokenSigner
	Logger      log.Logger
}

// NewServer validates mandatory collaborators and builds the server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("httpapi: engine is required")
	}

	if cfg.Auth == nil {
		return nil, fmt.Errorf("httpapi: auth service is required")
	}

	if cfg.Limiter == nil {
		return nil, fmt.Errorf("httpapi: rate limiter is required")
	}

	if cfg.Idempotency == nil {
		return nil, fmt.Errorf("httpapi: idempotency coordinator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Server{
		db:       cfg.DB,
		auth:     cfg.Auth,
		limiter:  cfg.Limiter,
		idem:     cfg.Idempotency,
		stripe:   cfg.Stripe,
		sumup:    cfg.SumUp,
		sumupAPI: cfg.SumUpAPI,
		feed:     cfg.FeedSigner,
		logger:   logger,
	}, nil
}

// Router builds a fiber app with all routes registered.
func (server *Server) Router() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	server.RegisterRoutes(app)

	return app
}

// RegisterRoutes attaches the HTTP surface to an existing app.
func (server *Server) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/v1")

	v1.Post("/bookings", server.handleCreateBooking)
	v1.Post("/bookings/:id/reschedule", server.handleRescheduleBooking)
	v1.Post("/bookings/:id/cancel", server.handleCancelBooking)
	v1.Get("/availability", server.handleAvailability)
	v1.Post("/invoices", server.handleGenerateInvoice)

	if server.stripe != nil {
		v1.Post("/webhooks/stripe", server.handleStripeWebhook)
	}

	if server.sumup != nil {
		v1.Post("/webhooks/sumup", server.handleSumUpWebhook)
	}

	if server.feed != nil {
		v1.Get("/calendar.ics", server.handleCalendarFeed)
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
}

// headersOf snapshots the request headers into the auth resolver's shape.
func headersOf(c *fiber.Ctx) auth.Headers {
	headers := auth.Headers{}

	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	return headers
}

// resolve authenticates the request and charges the operation's rate budget.
// Budgets are tracked per (operation, caller), so a hot endpoint exhausts its
// own window without starving the others.
func (server *Server) resolve(c *fiber.Ctx, operation string) (auth.Context, error) {
	identity, err := server.auth.Authenticate(headersOf(c))
	if err != nil {
		return auth.Context{}, err
	}

	if _, err := server.limiter.Consume(c.UserContext(), operation+":"+identity.UserID.String(), 1); err != nil {
		return identity, err
	}

	return identity, nil
}
