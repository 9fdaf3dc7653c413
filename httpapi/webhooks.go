package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/engine"
	"github.com/carosellagiuliano-max/codeccloud-core/log"
	"github.com/carosellagiuliano-max/codeccloud-core/webhook"
)

type webhookReceipt struct {
	Received bool `json:"received"`
	Replayed bool `json:"replayed"`
}

func webhookRequestID(c *fiber.Ctx) string {
	if requestID := c.Get(HeaderRequestID); requestID != "" {
		return requestID
	}

	return uuid.NewString()
}

func (server *Server) handleStripeWebhook(c *fiber.Ctx) error {
	requestID := webhookRequestID(c)

	event, err := server.stripe.Verify(c.Get(webhook.SignatureHeader), c.Body())
	if err != nil {
		server.logger.Log(c.UserContext(), log.LevelWarn, "stripe webhook rejected", log.Err(err))

		return writeProblem(c, requestID, err)
	}

	stored, err := server.storePaymentEvent(c, "stripe", event.ID, event.TenantID, nil, event.Raw, "payments.stripe", map[string]any{
		"provider":        "stripe",
		"providerEventId": event.ID,
		"eventType":       event.Type,
		"tenantId":        event.TenantID,
	})
	if err != nil {
		return writeProblem(c, requestID, err)
	}

	return writeJSON(c, requestID, fiber.StatusOK, webhookReceipt{Received: true, Replayed: !stored})
}

func (server *Server) handleSumUpWebhook(c *fiber.Ctx) error {
	requestID := webhookRequestID(c)

	remoteAddr := c.Context().RemoteAddr().String()

	headerLookup := func(name string) string { return c.Get(name) }

	event, err := server.sumup.Verify(headerLookup, remoteAddr, c.Body())
	if err != nil {
		server.logger.Log(c.UserContext(), log.LevelWarn, "sumup webhook rejected", log.Err(err))

		return writeProblem(c, requestID, err)
	}

	server.crossCheckSumUpTransaction(c, event)

	payload := map[string]any{
		"provider":        "sumup",
		"providerEventId": event.ID,
		"eventType":       event.Type,
		"tenantId":        event.TenantID,
	}
	if event.Sequence != nil {
		payload["sequence"] = *event.Sequence
	}

	stored, err := server.storePaymentEvent(c, "sumup", event.ID, event.TenantID, event.Sequence, event.Raw, "payments.sumup", payload)
	if err != nil {
		return writeProblem(c, requestID, err)
	}

	return writeJSON(c, requestID, fiber.StatusOK, webhookReceipt{Received: true, Replayed: !stored})
}

// crossCheckSumUpTransaction confirms the claimed transaction against the
// provider API when a client is configured. Lookup failures are logged but do
// not block ingestion; the signature already authenticated the payload.
func (server *Server) crossCheckSumUpTransaction(c *fiber.Ctx, event *webhook.SumUpEvent) {
	if server.sumupAPI == nil || event.TransactionID == "" {
		return
	}

	transaction, err := server.sumupAPI.Transaction(c.UserContext(), event.TransactionID)
	if err != nil {
		server.logger.Log(c.UserContext(), log.LevelWarn, "sumup transaction cross-check failed",
			log.String("transaction_id", event.TransactionID),
			log.Err(err),
		)

		return
	}

	server.logger.Log(c.UserContext(), log.LevelDebug, "sumup transaction cross-checked",
		log.String("transaction_id", transaction.ID),
		log.String("status", transaction.Status),
	)
}

// storePaymentEvent persists the deduplicated provider event and, only when it
// is stored for the first time (or supersedes by sequence), appends the
// payment outbox event in the same transaction.
func (server *Server) storePaymentEvent(
	c *fiber.Ctx,
	provider string,
	providerEventID string,
	tenantID uuid.UUID,
	sequence *int64,
	raw []byte,
	outboxType string,
	outboxPayload map[string]any,
) (bool, error) {
	var stored bool

	err := server.db.Transaction(c.UserContext(), tenantID, func(tx *engine.Tx) error {
		stored = tx.RecordPaymentEvent(engine.PaymentEventRecord{
			Provider:        provider,
			ProviderEventID: providerEventID,
			TenantID:        tenantID,
			Sequence:        sequence,
			Payload:         raw,
			ReceivedAt:      time.Now().UTC(),
		})

		if !stored {
			return nil
		}

		outboxPayload["occurredAt"] = time.Now().UTC()

		_, err := tx.EnqueueOutbox(outboxType, outboxPayload)

		return err
	})
	if err != nil {
		return false, err
	}

	return stored, nil
}
