package orders

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/internal/fulfillment"
	"github.com/printloop/printloop-backend/pkg/enums"
	apperrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/payloads"
)

const pipelineConsumer = "order-pipeline"

type attributionService interface {
	Attribute(ctx context.Context, orderID uuid.UUID) error
}

type dispatchService interface {
	Dispatch(ctx context.Context, orderID uuid.UUID) (*fulfillment.DispatchResult, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer drives the post-payment pipeline: for every paid order it credits
// affiliate commission and submits the order to the print provider. It also
// picks up standalone dispatch requests emitted by operator retries and the
// requeue sweep.
type Consumer struct {
	attribution  attributionService
	fulfillment  dispatchService
	subscription *pubsub.Subscriber
	idempotency  idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds the order pipeline consumer.
func NewConsumer(
	attribution attributionService,
	dispatcher dispatchService,
	subscription *pubsub.Subscriber,
	manager idempotencyChecker,
	logg *logger.Logger,
) (*Consumer, error) {
	if attribution == nil {
		return nil, fmt.Errorf("attribution service required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("fulfillment service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("orders subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		attribution:  attribution,
		fulfillment:  dispatcher,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	switch enums.OutboxEventType(eventType) {
	case enums.EventOrderPaid, enums.EventFulfillmentDispatch:
	default:
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", envelope.EventID)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, pipelineConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	var handleErr error
	switch enums.OutboxEventType(eventType) {
	case enums.EventOrderPaid:
		handleErr = c.handleOrderPaid(ctx, envelope.Data, logCtx)
	case enums.EventFulfillmentDispatch:
		handleErr = c.handleDispatch(ctx, envelope.Data, logCtx)
	}
	if handleErr != nil {
		c.logg.Error(logCtx, "pipeline step failed", handleErr)
		_ = c.idempotency.Delete(ctx, pipelineConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) handleOrderPaid(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.OrderPaidEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse order_paid payload: %w", err)
	}
	logCtx = c.logg.WithOrderID(logCtx, payload.OrderID.String())

	if err := c.attribution.Attribute(ctx, payload.OrderID); err != nil {
		return fmt.Errorf("attribute order: %w", err)
	}

	return c.dispatch(ctx, payload.OrderID, logCtx)
}

func (c *Consumer) handleDispatch(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.FulfillmentDispatchEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse fulfillment_dispatch payload: %w", err)
	}
	logCtx = c.logg.WithOrderID(logCtx, payload.OrderID.String())
	if payload.Manual {
		c.logg.Info(logCtx, "operator-triggered dispatch")
	}

	return c.dispatch(ctx, payload.OrderID, logCtx)
}

// dispatch runs a submission attempt. Orders no longer in a dispatchable
// state are acked rather than retried: the state machine already settled
// them, usually via a cancellation or a competing consumer.
func (c *Consumer) dispatch(ctx context.Context, orderID uuid.UUID, logCtx context.Context) error {
	result, err := c.fulfillment.Dispatch(ctx, orderID)
	if err != nil {
		if appErr := apperrors.As(err); appErr != nil {
			switch appErr.Code() {
			case apperrors.CodeStateConflict, apperrors.CodeNotFound:
				c.logg.Warn(logCtx, "order not dispatchable, dropping event")
				return nil
			}
		}
		return fmt.Errorf("dispatch order: %w", err)
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"fulfillment_status": string(result.Status),
		"attempt_count":      result.AttemptCount,
	})
	if result.Status == enums.FulfillmentStatusFailed {
		c.logg.Warn(logCtx, "dispatch exhausted, order parked for operator review")
		return nil
	}
	c.logg.Info(logCtx, "order submitted to print provider")
	return nil
}
