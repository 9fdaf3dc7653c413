package webhook

import (
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// SumUp webhook header names.
const (
	SumUpTimestampHeader = "X-SumUp-Timestamp"
	SumUpSignatureHeader = "X-SumUp-Hmac"
)

// SumUpEvent is the authenticated subset of a SumUp webhook payload.
type SumUpEvent struct {
	ID            string
	Type          string
	TenantID      uuid.UUID
	TransactionID string
	// Sequence orders events per provider event stream; later sequences
	// supersede earlier stored ones.
	Sequence *int64
	Raw      json.RawMessage
}

// SumUpVerifier checks SumUp webhook signatures and caller provenance.
type SumUpVerifier struct {
	secret    []byte
	tolerance time.Duration
	allowlist *IPAllowlist
	now       func() time.Time
}

// NewSumUpVerifier creates a verifier for the given signing secret. Secrets
// that decode as hex are used in binary form, matching SumUp's key delivery.
// The allowlist may be nil to skip caller IP checks.
func NewSumUpVerifier(secret string, tolerance time.Duration, allowlist *IPAllowlist) (*SumUpVerifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("webhook: sumup signing secret is required")
	}

	key := []byte(trimmed)
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) > 0 {
		key = decoded
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	return &SumUpVerifier{
		secret:    key,
		tolerance: tolerance,
		allowlist: allowlist,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Verify authenticates the raw body against the SumUp timestamp and HMAC
// headers, after confirming the caller address is allowlisted. headers must
// expose the raw request headers; remoteAddr is the transport peer address.
func (verifier *SumUpVerifier) Verify(
	headers func(name string) string,
	remoteAddr string,
	body []byte,
) (*SumUpEvent, error) {
	if verifier.allowlist != nil {
		callerIP := ClientIP(headers, remoteAddr)
		if !verifier.allowlist.Allowed(callerIP) {
			return nil, problem.Forbidden("Webhook caller address is not allowlisted.")
		}
	}

	timestampRaw := strings.TrimSpace(headers(SumUpTimestampHeader))
	if timestampRaw == "" {
		return nil, problem.Unauthorized("Missing webhook timestamp header.")
	}

	timestamp, err := strconv.ParseInt(timestampRaw, 10, 64)
	if err != nil {
		return nil, problem.Unauthorized("Malformed webhook timestamp header.")
	}

	signedAt := time.Unix(timestamp, 0)

	drift := verifier.now().Sub(signedAt)
	if drift < 0 {
		drift = -drift
	}

	if drift > verifier.tolerance {
		return nil, problem.Unauthorized("Webhook timestamp outside the accepted tolerance.")
	}

	signature := strings.TrimSpace(headers(SumUpSignatureHeader))
	if signature == "" {
		return nil, problem.Unauthorized("Missing webhook signature header.")
	}

	expected := signHMAC(verifier.secret, timestampRaw, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, problem.Unauthorized("Webhook signature mismatch.")
	}

	return parseSumUpEvent(body)
}

// sumupPayload mirrors the provider envelope: event identity and sequence at
// the top level, the affected resources nested under payload.
type sumupPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Payload   struct {
		TenantID      string `json:"tenant_id"`
		TransactionID string `json:"transaction_id"`
	} `json:"payload"`
	Sequence *int64 `json:"sequence"`
}

func parseSumUpEvent(body []byte) (*SumUpEvent, error) {
	var payload sumupPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, problem.BadRequest("Webhook payload is not valid JSON.")
	}

	if strings.TrimSpace(payload.EventID) == "" {
		return nil, problem.BadRequest("Webhook payload is missing an event id.")
	}

	if strings.TrimSpace(payload.Payload.TenantID) == "" {
		return nil, problem.BadRequest("Webhook payload does not identify a tenant.")
	}

	tenantID, err := uuid.Parse(payload.Payload.TenantID)
	if err != nil {
		return nil, problem.BadRequest("Webhook payload tenant id is malformed.")
	}

	return &SumUpEvent{
		ID:            payload.EventID,
		Type:          payload.EventType,
		TenantID:      tenantID,
		TransactionID: payload.Payload.TransactionID,
		Sequence:      payload.Sequence,
		Raw:           append(json.RawMessage(nil), body...),
	}, nil
}
