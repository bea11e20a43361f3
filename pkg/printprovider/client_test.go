package printprovider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/printloop/printloop-backend/pkg/config"
	"github.com/printloop/printloop-backend/pkg/types"
)

func testConfig() config.PrintProviderConfig {
	return config.PrintProviderConfig{
		BaseURL: "http://provider.test",
		APIKey:  "test-key",
	}
}

func testRecipient() types.Address {
	return types.Address{
		Name:       "Jordan Diaz",
		Line1:      "500 Elm St",
		City:       "Austin",
		State:      "TX",
		PostalCode: "78701",
		Country:    "US",
	}
}

func TestClientCreateOrderRequest(t *testing.T) {
	const expectedURL = "http://provider.test/v1/orders"
	respBody := `{"order_ref":"prov-789","status":"accepted"}`

	var capturedURL string
	var capturedHeaders http.Header

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()

		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(bodyBytes, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if payload["external_ref"] != "order-123" {
			t.Fatalf("unexpected external_ref %q", payload["external_ref"])
		}
		if payload["shipping_method"] != "standard" {
			t.Fatalf("unexpected shipping_method %q", payload["shipping_method"])
		}

		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		ExternalRef:    "order-123",
		Recipient:      testRecipient(),
		Items:          []OrderItem{{SKU: "TEE-BLK-M", Quantity: 2, AssetURL: "https://assets.test/design.png"}},
		ShippingMethod: "standard",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedHeaders.Get("Authorization") != "Bearer test-key" {
		t.Fatalf("auth header missing")
	}
	if resp.ProviderOrderRef != "prov-789" {
		t.Fatalf("unexpected provider ref %q", resp.ProviderOrderRef)
	}
}

func TestClientCreateOrderErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "bad request is terminal", status: http.StatusBadRequest, retryable: false},
		{name: "unprocessable is terminal", status: http.StatusUnprocessableEntity, retryable: false},
		{name: "server error is retryable", status: http.StatusInternalServerError, retryable: true},
		{name: "gateway timeout is retryable", status: http.StatusGatewayTimeout, retryable: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: tc.status,
					Body:       io.NopCloser(strings.NewReader(`{"error":"nope"}`)),
					Header:     http.Header{},
				}, nil
			})
			client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
			if err != nil {
				t.Fatalf("new client: %v", err)
			}

			_, err = client.CreateOrder(context.Background(), CreateOrderRequest{
				ExternalRef:    "order-123",
				Recipient:      testRecipient(),
				Items:          []OrderItem{{SKU: "TEE-BLK-M", Quantity: 1, AssetURL: "https://assets.test/design.png"}},
				ShippingMethod: "standard",
			})
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			if got := IsRetryable(err); got != tc.retryable {
				t.Fatalf("IsRetryable = %v, want %v for status %d", got, tc.retryable, tc.status)
			}
		})
	}
}

func TestClientCreateOrderValidation(t *testing.T) {
	client, err := NewClient(testConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateOrder(context.Background(), CreateOrderRequest{
		Recipient:      testRecipient(),
		Items:          []OrderItem{{SKU: "TEE-BLK-M", Quantity: 1}},
		ShippingMethod: "standard",
	})
	if err == nil || !strings.Contains(err.Error(), "external ref") {
		t.Fatalf("expected external ref error, got %v", err)
	}

	_, err = client.CreateOrder(context.Background(), CreateOrderRequest{
		ExternalRef:    "order-123",
		Recipient:      testRecipient(),
		ShippingMethod: "standard",
	})
	if err == nil || !strings.Contains(err.Error(), "item") {
		t.Fatalf("expected items error, got %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
