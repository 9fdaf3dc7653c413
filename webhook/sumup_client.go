package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultSumUpBaseURL = "https://api.sumup.com"
	tokenExpirySlack    = 30 * time.Second
)

// SumUpTransaction is the provider-side view of a payment transaction.
type SumUpTransaction struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// SumUpClient cross-checks webhook claims against the SumUp API. Outbound
// calls run behind a circuit breaker so a provider outage cannot stall
// webhook ingestion.
type SumUpClient struct {
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
	baseURL      string
	clientID     string
	clientSecret string

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

// SumUpClientConfig configures the outbound SumUp API client.
type SumUpClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// NewSumUpClient creates a client with OAuth client-credentials token caching.
func NewSumUpClient(cfg SumUpClientConfig) (*SumUpClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("webhook: sumup client credentials are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultSumUpBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sumup-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &SumUpClient{
		httpClient:   &http.Client{Timeout: timeout},
		breaker:      breaker,
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Transaction fetches the provider's record of one transaction.
func (client *SumUpClient) Transaction(ctx context.Context, transactionID string) (*SumUpTransaction, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("webhook: transaction id is required")
	}

	result, err := client.breaker.Execute(func() (any, error) {
		return client.fetchTransaction(ctx, transactionID)
	})
	if err != nil {
		return nil, err
	}

	transaction, ok := result.(*SumUpTransaction)
	if !ok {
		return nil, fmt.Errorf("webhook: unexpected sumup response type %T", result)
	}

	return transaction, nil
}

func (client *SumUpClient) fetchTransaction(ctx context.Context, transactionID string) (*SumUpTransaction, error) {
	token, err := client.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v0.1/me/transactions/%s", client.baseURL, url.PathEscape(transactionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build sumup transaction request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sumup transaction: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read sumup transaction response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sumup transaction lookup returned status %d", resp.StatusCode)
	}

	transaction := &SumUpTransaction{}
	if err := json.Unmarshal(body, transaction); err != nil {
		return nil, fmt.Errorf("decode sumup transaction response: %w", err)
	}

	return transaction, nil
}

func (client *SumUpClient) token(ctx context.Context) (string, error) {
	client.tokenMu.Lock()
	defer client.tokenMu.Unlock()

	if client.accessToken != "" && client.now().Add(tokenExpirySlack).Before(client.tokenExpiry) {
		return client.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {client.clientID},
		"client_secret": {client.clientSecret},
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		client.baseURL+"/token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("build sumup token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch sumup access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sumup token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sumup token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode sumup token response: %w", err)
	}

	if payload.AccessToken == "" {
		return "", fmt.Errorf("sumup token response is missing an access token")
	}

	client.accessToken = payload.AccessToken
	client.tokenExpiry = client.now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	return client.accessToken, nil
}
