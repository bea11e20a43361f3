package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/printloop/printloop-backend/internal/checkout"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
)

func TestHandlePaymentIntentSucceededConfirmsCheckout(t *testing.T) {
	stub := &stubCheckout{}
	service := newTestService(t, stub)

	event := buildIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_123", "")
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}
	if len(stub.confirmed) != 1 || stub.confirmed[0] != "pi_123" {
		t.Fatalf("expected confirm for pi_123, got %v", stub.confirmed)
	}
	if len(stub.failed) != 0 {
		t.Fatalf("success event must not fail payment")
	}
}

func TestHandlePaymentIntentFailedCancelsCheckout(t *testing.T) {
	stub := &stubCheckout{}
	service := newTestService(t, stub)

	event := buildIntentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, "pi_456", "card declined")
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}
	if len(stub.failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(stub.failed))
	}
	if stub.failed[0].gatewayRef != "pi_456" {
		t.Fatalf("unexpected gateway ref %s", stub.failed[0].gatewayRef)
	}
	if stub.failed[0].reason != "card declined" {
		t.Fatalf("unexpected reason %s", stub.failed[0].reason)
	}
}

func TestHandlePaymentIntentFailedUsesFallbackReason(t *testing.T) {
	stub := &stubCheckout{}
	service := newTestService(t, stub)

	event := buildIntentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, "pi_789", "")
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}
	if stub.failed[0].reason != fallbackFailureReason {
		t.Fatalf("expected fallback reason, got %s", stub.failed[0].reason)
	}
}

func TestHandleEventIgnoresUnrelatedTypes(t *testing.T) {
	stub := &stubCheckout{}
	service := newTestService(t, stub)

	event := &stripe.Event{
		Type: stripe.EventTypeCustomerCreated,
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}
	if len(stub.confirmed) != 0 || len(stub.failed) != 0 {
		t.Fatalf("unrelated event must not touch checkout")
	}
}

func TestHandleEventRejectsMissingIntentID(t *testing.T) {
	service := newTestService(t, &stubCheckout{})

	event := &stripe.Event{
		Type: stripe.EventTypePaymentIntentSucceeded,
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	err := service.HandleEvent(context.Background(), event)
	if err == nil {
		t.Fatalf("expected error for missing intent id")
	}
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandleEventPropagatesCheckoutErrors(t *testing.T) {
	stub := &stubCheckout{confirmErr: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	service := newTestService(t, stub)

	event := buildIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_err", "")
	if err := service.HandleEvent(context.Background(), event); err == nil {
		t.Fatalf("expected checkout error to propagate")
	}
}

type failCall struct {
	gatewayRef string
	reason     string
}

type stubCheckout struct {
	confirmed  []string
	failed     []failCall
	confirmErr error
}

func (s *stubCheckout) Begin(ctx context.Context, input checkout.BeginInput) (*checkout.CheckoutResult, error) {
	return nil, nil
}

func (s *stubCheckout) ConfirmPayment(ctx context.Context, gatewayRef string) error {
	s.confirmed = append(s.confirmed, gatewayRef)
	return s.confirmErr
}

func (s *stubCheckout) FailPayment(ctx context.Context, gatewayRef string, reason string) error {
	s.failed = append(s.failed, failCall{gatewayRef: gatewayRef, reason: reason})
	return nil
}

func newTestService(t *testing.T, stub *stubCheckout) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Checkout: stub,
		Logger: logger.New(logger.Options{
			ServiceName: "stripe-webhook-test",
			Output:      io.Discard,
		}),
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return service
}

func buildIntentEvent(t *testing.T, eventType stripe.EventType, intentID string, failureMsg string) *stripe.Event {
	t.Helper()
	intent := map[string]any{"id": intentID}
	if failureMsg != "" {
		intent["last_payment_error"] = map[string]any{"message": failureMsg}
	}
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}
