// Package webhook authenticates inbound payment provider callbacks before any
// of their content is trusted or persisted.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// DefaultTolerance bounds how far a signed timestamp may drift from now.
const DefaultTolerance = 300 * time.Second

// SignatureHeader is the Stripe signature header name.
const SignatureHeader = "Stripe-Signature"

// StripeEvent is the authenticated subset of a Stripe webhook payload.
type StripeEvent struct {
	ID       string
	Type     string
	TenantID uuid.UUID
	Raw      json.RawMessage
}

// StripeVerifier checks Stripe webhook signatures.
type StripeVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewStripeVerifier creates a verifier for the given signing secret. A
// non-positive tolerance uses DefaultTolerance.
func NewStripeVerifier(secret string, tolerance time.Duration) (*StripeVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook: stripe signing secret is required")
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	return &StripeVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Verify authenticates the raw body against the Stripe-Signature header and
// returns the parsed event. Rejections are 401 problems; nothing from the
// payload may be used before Verify succeeds.
func (verifier *StripeVerifier) Verify(signatureHeader string, body []byte) (*StripeEvent, error) {
	timestamp, candidates, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	if err := verifier.checkTolerance(timestamp); err != nil {
		return nil, err
	}

	expected := signHMAC(verifier.secret, strconv.FormatInt(timestamp, 10), body)

	if !anySignatureMatches(expected, candidates) {
		return nil, problem.Unauthorized("Webhook signature mismatch.")
	}

	return parseStripeEvent(body)
}

func (verifier *StripeVerifier) checkTolerance(timestamp int64) error {
	signedAt := time.Unix(timestamp, 0)

	drift := verifier.now().Sub(signedAt)
	if drift < 0 {
		drift = -drift
	}

	if drift > verifier.tolerance {
		return problem.Unauthorized("Webhook timestamp outside the accepted tolerance.")
	}

	return nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]" into the
// signed timestamp and all v1 candidates. Unknown schemes are ignored.
func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, problem.Unauthorized("Missing webhook signature header.")
	}

	var (
		timestamp  int64
		candidates []string
		sawT       bool
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}

		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, problem.Unauthorized("Malformed webhook signature timestamp.")
			}

			timestamp = parsed
			sawT = true
		case "v1":
			candidates = append(candidates, value)
		}
	}

	if !sawT || len(candidates) == 0 {
		return 0, nil, problem.Unauthorized("Malformed webhook signature header.")
	}

	return timestamp, candidates, nil
}

func signHMAC(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

func anySignatureMatches(expected string, candidates []string) bool {
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(strings.TrimSpace(candidate))) {
			return true
		}
	}

	return false
}

type stripePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			TenantID string `json:"tenant_id"`
			Metadata struct {
				TenantID string `json:"tenant_id"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func parseStripeEvent(body []byte) (*StripeEvent, error) {
	var payload stripePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, problem.BadRequest("Webhook payload is not valid JSON.")
	}

	if strings.TrimSpace(payload.ID) == "" {
		return nil, problem.BadRequest("Webhook payload is missing an event id.")
	}

	tenantRaw := payload.Data.Object.TenantID
	if tenantRaw == "" {
		tenantRaw = payload.Data.Object.Metadata.TenantID
	}

	if tenantRaw == "" {
		return nil, problem.BadRequest("Webhook payload does not identify a tenant.")
	}

	tenantID, err := uuid.Parse(tenantRaw)
	if err != nil {
		return nil, problem.BadRequest("Webhook payload tenant id is malformed.")
	}

	return &StripeEvent{
		ID:       payload.ID,
		Type:     payload.Type,
		TenantID: tenantID,
		Raw:      append(json.RawMessage(nil), body...),
	}, nil
}
