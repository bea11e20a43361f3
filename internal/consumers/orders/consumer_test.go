package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/internal/fulfillment"
	"github.com/printloop/printloop-backend/pkg/enums"
	apperrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/payloads"
)

func TestOrderPaidRunsAttributionThenDispatch(t *testing.T) {
	orderID := uuid.New()
	attribution := &fakeAttribution{}
	dispatcher := &fakeDispatcher{
		result: &fulfillment.DispatchResult{
			OrderID:          orderID,
			Status:           enums.FulfillmentStatusAccepted,
			ProviderOrderRef: "pp-123",
			AttemptCount:     1,
		},
	}
	consumer := newTestConsumer(attribution, dispatcher, passthroughIdempotency())

	msg := buildMessage(t, enums.EventOrderPaid, payloads.OrderPaidEvent{
		OrderID:    orderID,
		CustomerID: uuid.New(),
		TotalCents: 4500,
		PaidAt:     time.Now(),
	})

	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(attribution.calls) != 1 || attribution.calls[0] != orderID {
		t.Fatalf("expected attribution for %s, got %v", orderID, attribution.calls)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != orderID {
		t.Fatalf("expected dispatch for %s, got %v", orderID, dispatcher.calls)
	}
}

func TestDispatchEventSkipsAttribution(t *testing.T) {
	orderID := uuid.New()
	attribution := &fakeAttribution{}
	dispatcher := &fakeDispatcher{
		result: &fulfillment.DispatchResult{
			OrderID: orderID,
			Status:  enums.FulfillmentStatusAccepted,
		},
	}
	consumer := newTestConsumer(attribution, dispatcher, passthroughIdempotency())

	msg := buildMessage(t, enums.EventFulfillmentDispatch, payloads.FulfillmentDispatchEvent{
		OrderID: orderID,
		Manual:  true,
	})

	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(attribution.calls) != 0 {
		t.Fatalf("dispatch event must not re-run attribution")
	}
	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected 1 dispatch call, got %d", len(dispatcher.calls))
	}
}

func TestUnknownEventIsAcked(t *testing.T) {
	attribution := &fakeAttribution{}
	dispatcher := &fakeDispatcher{}
	consumer := newTestConsumer(attribution, dispatcher, passthroughIdempotency())

	msg := buildMessage(t, enums.EventPayoutRequested, payloads.PayoutRequestedEvent{
		PayoutID: uuid.New(),
	})

	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack for unrelated event")
	}
	if len(attribution.calls) != 0 || len(dispatcher.calls) != 0 {
		t.Fatalf("unrelated event must not trigger pipeline")
	}
}

func TestDuplicateEventIsAckedWithoutWork(t *testing.T) {
	attribution := &fakeAttribution{}
	dispatcher := &fakeDispatcher{}
	manager := fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return true, nil
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			return nil
		},
	}
	consumer := newTestConsumer(attribution, dispatcher, manager)

	msg := buildMessage(t, enums.EventOrderPaid, payloads.OrderPaidEvent{OrderID: uuid.New()})

	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack for duplicate event")
	}
	if len(attribution.calls) != 0 || len(dispatcher.calls) != 0 {
		t.Fatalf("duplicate event must not trigger pipeline")
	}
}

func TestTransientFailureNacksAndReleasesKey(t *testing.T) {
	attribution := &fakeAttribution{err: errors.New("db unavailable")}
	dispatcher := &fakeDispatcher{}
	deleted := false
	manager := fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			deleted = true
			return nil
		},
	}
	consumer := newTestConsumer(attribution, dispatcher, manager)

	msg := buildMessage(t, enums.EventOrderPaid, payloads.OrderPaidEvent{OrderID: uuid.New()})

	result := consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatalf("expected nack on attribution failure")
	}
	if !deleted {
		t.Fatalf("expected idempotency key release so redelivery can retry")
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("dispatch must not run after attribution failure")
	}
}

func TestStateConflictIsDropped(t *testing.T) {
	attribution := &fakeAttribution{}
	dispatcher := &fakeDispatcher{
		err: apperrors.New(apperrors.CodeStateConflict, "order is canceled"),
	}
	consumer := newTestConsumer(attribution, dispatcher, passthroughIdempotency())

	msg := buildMessage(t, enums.EventFulfillmentDispatch, payloads.FulfillmentDispatchEvent{
		OrderID: uuid.New(),
	})

	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("state conflict should ack, got %+v", result)
	}
}

func TestExhaustedDispatchIsAcked(t *testing.T) {
	orderID := uuid.New()
	attribution := &fakeAttribution{}
	dispatcher := &fakeDispatcher{
		result: &fulfillment.DispatchResult{
			OrderID:      orderID,
			Status:       enums.FulfillmentStatusFailed,
			AttemptCount: 5,
		},
	}
	consumer := newTestConsumer(attribution, dispatcher, passthroughIdempotency())

	msg := buildMessage(t, enums.EventOrderPaid, payloads.OrderPaidEvent{OrderID: orderID})

	// The failure is already recorded on the order; redelivery would only
	// hammer the provider again with the same doomed request.
	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("expected ack for recorded dispatch failure")
	}
}

func TestMalformedEnvelopeIsAcked(t *testing.T) {
	consumer := newTestConsumer(&fakeAttribution{}, &fakeDispatcher{}, passthroughIdempotency())

	msg := &pubsub.Message{
		ID:         "m-1",
		Data:       []byte("{not json"),
		Attributes: map[string]string{"event_type": string(enums.EventOrderPaid)},
	}

	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("poison message should be acked, not redelivered forever")
	}
}

func TestBadPayloadNacksAndReleasesKey(t *testing.T) {
	deleted := false
	manager := fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			deleted = true
			return nil
		},
	}
	consumer := newTestConsumer(&fakeAttribution{}, &fakeDispatcher{}, manager)

	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       []byte(`"{invalid"`),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg := &pubsub.Message{
		ID:         "m-2",
		Data:       data,
		Attributes: map[string]string{"event_type": string(enums.EventOrderPaid)},
	}

	result := consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatalf("expected nack for undecodable payload")
	}
	if !deleted {
		t.Fatalf("expected idempotency key release")
	}
}

type fakeAttribution struct {
	calls []uuid.UUID
	err   error
}

func (f *fakeAttribution) Attribute(ctx context.Context, orderID uuid.UUID) error {
	f.calls = append(f.calls, orderID)
	return f.err
}

type fakeDispatcher struct {
	calls  []uuid.UUID
	result *fulfillment.DispatchResult
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, orderID uuid.UUID) (*fulfillment.DispatchResult, error) {
	f.calls = append(f.calls, orderID)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeIdempotency struct {
	check    func(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	deleteFn func(ctx context.Context, consumer string, eventID uuid.UUID) error
}

func (f fakeIdempotency) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	return f.check(ctx, consumer, eventID)
}

func (f fakeIdempotency) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	return f.deleteFn(ctx, consumer, eventID)
}

func passthroughIdempotency() fakeIdempotency {
	return fakeIdempotency{
		check: func(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _ string, _ uuid.UUID) error {
			return nil
		},
	}
}

func newTestConsumer(attribution attributionService, dispatcher dispatchService, manager idempotencyChecker) *Consumer {
	return &Consumer{
		attribution: attribution,
		fulfillment: dispatcher,
		idempotency: manager,
		logg: logger.New(logger.Options{
			ServiceName: "orders-consumer-test",
			Output:      io.Discard,
		}),
	}
}

func buildMessage(t *testing.T, eventType enums.OutboxEventType, payload any) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       data,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       raw,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}
