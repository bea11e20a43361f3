package cron

import (
	"context"
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
	defaultRequeueAfter = 15 * time.Minute
	requeueBatchSize    = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type staleFulfillmentReader interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.FulfillmentRequest, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

// FulfillmentRequeueJobParams configure the dispatch requeue sweep.
type FulfillmentRequeueJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Fulfillments staleFulfillmentReader
	Outbox       outboxEmitter
	RequeueAfter time.Duration
}

// NewFulfillmentRequeueJob builds the job that re-emits dispatch events for
// submitted fulfillment requests whose dispatch never came back. This is the
// recovery path after a worker crash mid-dispatch.
func NewFulfillmentRequeueJob(params FulfillmentRequeueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Fulfillments == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	requeueAfter := params.RequeueAfter
	if requeueAfter <= 0 {
		requeueAfter = defaultRequeueAfter
	}
	return &fulfillmentRequeueJob{
		logg:         params.Logger,
		db:           params.DB,
		fulfillments: params.Fulfillments,
		outbox:       params.Outbox,
		requeueAfter: requeueAfter,
		now:          time.Now,
	}, nil
}

type fulfillmentRequeueJob struct {
	logg         *logger.Logger
	db           txRunner
	fulfillments staleFulfillmentReader
	outbox       outboxEmitter
	requeueAfter time.Duration
	now          func() time.Time
}

func (j *fulfillmentRequeueJob) Name() string { return "fulfillment-requeue" }

func (j *fulfillmentRequeueJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	stale, err := j.fulfillments.ListStale(ctx, now, requeueBatchSize)
	if err != nil {
		return fmt.Errorf("list stale fulfillments: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var errs error
	requeued := 0
	for _, request := range stale {
		if err := j.requeue(ctx, request, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", request.OrderID, err))
			continue
		}
		requeued++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":    len(stale),
		"requeued": requeued,
	})
	j.logg.Info(logCtx, "fulfillment requeue sweep complete")
	return errs
}

func (j *fulfillmentRequeueJob) requeue(ctx context.Context, request models.FulfillmentRequest, now time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		// Push next_attempt_at forward first so overlapping sweeps do not
		// double-emit for the same row.
		if err := j.fulfillments.Update(ctx, request.ID, map[string]any{
			"next_attempt_at": now.Add(j.requeueAfter),
		}); err != nil {
			return err
		}
		event := payloads.FulfillmentDispatchEvent{OrderID: request.OrderID}
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentDispatch,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   request.OrderID,
			Data:          event,
		})
	})
}
