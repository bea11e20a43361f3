package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/payloads"
)

const (
	defaultOrderExpiry   = 24 * time.Hour
	expiryBatchSize      = 100
	expiredPaymentReason = "payment window expired"
)

type expirableOrderRepo interface {
	ListPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ExpireOrder(ctx context.Context, id uuid.UUID, canceledAt time.Time) error
}

type dedupedOutboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OrderExpiryJobParams configure the stale checkout cleanup.
type OrderExpiryJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Orders expirableOrderRepo
	Outbox dedupedOutboxEmitter
	Expiry time.Duration
}

// NewOrderExpiryJob builds the job that cancels orders whose payment never
// arrived. Stock was never decremented for these orders, so cancellation is
// just a status flip plus the canceled event.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	expiry := params.Expiry
	if expiry <= 0 {
		expiry = defaultOrderExpiry
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		db:     params.DB,
		orders: params.Orders,
		outbox: params.Outbox,
		expiry: expiry,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	db     txRunner
	orders expirableOrderRepo
	outbox dedupedOutboxEmitter
	expiry time.Duration
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.expiry)
	stale, err := j.orders.ListPendingPaymentBefore(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return fmt.Errorf("list stale pending orders: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var errs error
	canceled := 0
	for _, order := range stale {
		switch err := j.cancel(ctx, order); {
		case err == nil:
			canceled++
		case errors.Is(err, gorm.ErrRecordNotFound):
			// A payment landed between the listing and the cancel.
		default:
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":    len(stale),
		"canceled": canceled,
		"cutoff":   cutoff,
	})
	j.logg.Info(logCtx, "order expiry sweep complete")
	return errs
}

func (j *orderExpiryJob) cancel(ctx context.Context, order models.Order) error {
	now := j.now().UTC()
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := j.orders.ExpireOrder(ctx, order.ID, now); err != nil {
			return err
		}
		event := payloads.OrderCanceledEvent{
			OrderID:    order.ID,
			Reason:     expiredPaymentReason,
			CanceledAt: now,
		}
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data:          event,
		})
	})
}
