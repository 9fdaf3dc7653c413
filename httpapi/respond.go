package httpapi

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// Response header names.
const (
	HeaderRequestID        = "X-Request-Id"
	HeaderIdempotentReplay = "X-Idempotent-Replay"
	HeaderRetryAfter       = "Retry-After"
	HeaderIdempotencyKey   = "Idempotency-Key"
)

const problemContentType = "application/problem+json"

// writeProblem renders any error as an RFC 9457 problem document.
func writeProblem(c *fiber.Ctx, requestID string, err error) error {
	detail := problem.From(err, requestID)

	c.Set(HeaderRequestID, detail.RequestID)

	var typed *problem.Error
	if errors.As(err, &typed) && typed.RetryAfter > 0 {
		c.Set(HeaderRetryAfter, strconv.Itoa(typed.RetryAfter))
	}

	body, marshalErr := json.Marshal(detail)
	if marshalErr != nil {
		c.Set(fiber.HeaderContentType, problemContentType)

		return c.Status(fiber.StatusInternalServerError).SendString(`{"status":500,"title":"Internal Server Error"}`)
	}

	c.Set(fiber.HeaderContentType, problemContentType)

	return c.Status(detail.Status).Send(body)
}

// writeJSON renders a success payload with the request correlation id.
func writeJSON(c *fiber.Ctx, requestID string, status int, payload any) error {
	c.Set(HeaderRequestID, requestID)

	body, err := json.Marshal(payload)
	if err != nil {
		return writeProblem(c, requestID, problem.Internal(err))
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	return c.Status(status).Send(body)
}

// writeRawJSON renders a pre-encoded JSON body, used for idempotent replays so
// the stored response goes out byte for byte.
func writeRawJSON(c *fiber.Ctx, requestID string, status int, body []byte) error {
	c.Set(HeaderRequestID, requestID)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	return c.Status(status).Send(body)
}
