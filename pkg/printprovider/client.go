// Package printprovider wraps the third-party print-on-demand API that
// manufactures and ships orders.
package printprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/printloop/printloop-backend/pkg/config"
	"github.com/printloop/printloop-backend/pkg/types"
)

const (
	defaultCallTimeout       = 15 * time.Second
	errorBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("print provider api key is required")

// ProviderError carries the provider's HTTP status so callers can decide
// whether a failed submission is worth retrying.
type ProviderError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("print provider: status %d", e.StatusCode)
	}
	return fmt.Sprintf("print provider: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is transient. Client errors mean
// the order itself is malformed and retrying the same payload cannot help.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// IsRetryable classifies any error from this package. Network errors and
// 5xx responses are retryable; 4xx responses are not.
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	return true
}

// Client is the HTTP client for the provider's order API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the provider client from config.
func NewClient(cfg config.PrintProviderConfig, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("print provider base url is required")
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// OrderItem is one line of a provider order submission.
type OrderItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	AssetURL string `json:"asset_url"`
}

// CreateOrderRequest is the payload submitted to the provider.
type CreateOrderRequest struct {
	// ExternalRef is our order ID; the provider treats it as an
	// idempotency key, so resubmitting the same order is safe.
	ExternalRef    string        `json:"external_ref"`
	Recipient      types.Address `json:"recipient"`
	Items          []OrderItem   `json:"items"`
	ShippingMethod string        `json:"shipping_method"`
}

// CreateOrderResponse is the provider's acknowledgement.
type CreateOrderResponse struct {
	ProviderOrderRef string `json:"order_ref"`
	Status           string `json:"status"`
}

// CreateOrder submits an order for manufacturing. A *ProviderError is
// returned for non-2xx responses.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	if c == nil {
		return nil, errors.New("print provider client not configured")
	}
	if strings.TrimSpace(req.ExternalRef) == "" {
		return nil, errors.New("external ref is required")
	}
	if len(req.Items) == 0 {
		return nil, errors.New("at least one item is required")
	}
	if err := req.Recipient.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal create order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute create order request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var apiResp CreateOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode create order response: %w", err)
	}
	if apiResp.ProviderOrderRef == "" {
		return nil, fmt.Errorf("provider response missing order_ref")
	}

	return &apiResp, nil
}

// GetOrder fetches the provider-side state of a previously submitted order.
func (c *Client) GetOrder(ctx context.Context, providerOrderRef string) (*CreateOrderResponse, error) {
	if c == nil {
		return nil, errors.New("print provider client not configured")
	}
	ref := strings.TrimSpace(providerOrderRef)
	if ref == "" {
		return nil, errors.New("provider order ref is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders/"+ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build get order request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute get order request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var apiResp CreateOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode get order response: %w", err)
	}

	return &apiResp, nil
}
