package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/internal/orders"
	"github.com/printloop/printloop-backend/pkg/config"
	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/payloads"
	"github.com/printloop/printloop-backend/pkg/printprovider"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type providerClient interface {
	CreateOrder(ctx context.Context, req printprovider.CreateOrderRequest) (*printprovider.CreateOrderResponse, error)
}

type pipelineMetrics interface {
	IncDispatchAttempt()
	IncDispatchOutcome(outcome string)
	ObserveDispatchDuration(duration time.Duration)
}

// Service submits paid orders to the print provider.
type Service interface {
	// Dispatch submits the order. Orders already accepted by the provider
	// return the stored ref without a second submission, so at-least-once
	// delivery of the dispatch event is safe.
	Dispatch(ctx context.Context, orderID uuid.UUID) (*DispatchResult, error)
	// OperatorRetry re-emits a dispatch event for an order in the failed
	// queue after an operator fixed the underlying problem.
	OperatorRetry(ctx context.Context, orderID uuid.UUID) error
	// OperatorComplete marks an order fulfilled by hand, for cases resolved
	// with the provider out of band.
	OperatorComplete(ctx context.Context, orderID uuid.UUID, providerOrderRef string) error
}

// DispatchResult reports the stored outcome of a dispatch.
type DispatchResult struct {
	OrderID          uuid.UUID               `json:"order_id"`
	Status           enums.FulfillmentStatus `json:"status"`
	ProviderOrderRef string                  `json:"provider_order_ref,omitempty"`
	AttemptCount     int                     `json:"attempt_count"`
}

type service struct {
	tx         txRunner
	repo       Repository
	ordersRepo orders.Repository
	provider   providerClient
	outbox     outboxPublisher
	metrics    pipelineMetrics
	cfg        config.FulfillmentConfig
	logg       *logger.Logger
}

// NewService builds the fulfillment dispatcher.
func NewService(
	tx txRunner,
	repo Repository,
	ordersRepo orders.Repository,
	provider providerClient,
	publisher outboxPublisher,
	metrics pipelineMetrics,
	cfg config.FulfillmentConfig,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	return &service{
		tx:         tx,
		repo:       repo,
		ordersRepo: ordersRepo,
		provider:   provider,
		outbox:     publisher,
		metrics:    metrics,
		cfg:        cfg,
		logg:       logg,
	}, nil
}

func (s *service) Dispatch(ctx context.Context, orderID uuid.UUID) (*DispatchResult, error) {
	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	started := time.Now()

	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}

	request, err := s.claim(ctx, order)
	if err != nil {
		return nil, err
	}
	if request == nil {
		// Another dispatch already finished this order.
		return s.storedResult(ctx, orderID)
	}

	response, attempts, submitErr := s.submit(ctx, order)
	if s.metrics != nil {
		s.metrics.ObserveDispatchDuration(time.Since(started))
	}
	if submitErr != nil {
		return s.recordFailure(logCtx, request, attempts, submitErr)
	}
	return s.recordSuccess(logCtx, request, attempts, response.ProviderOrderRef)
}

// claim transitions the fulfillment row to submitted under the order lock,
// creating it if this is the first dispatch. Returns nil when the order is
// already fulfilled or a submission already landed.
func (s *service) claim(ctx context.Context, order *models.Order) (*models.FulfillmentRequest, error) {
	var claimed *models.FulfillmentRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		lockedOrder, err := s.ordersRepo.WithTx(tx).FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
		}
		switch lockedOrder.Status {
		case enums.OrderStatusPaid, enums.OrderStatusFulfillmentFailed:
		case enums.OrderStatusFulfilled:
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order in state %s cannot be dispatched", lockedOrder.Status))
		}

		repo := s.repo.WithTx(tx)
		request, err := repo.FindByOrderIDForUpdate(ctx, order.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			request, err = repo.Create(ctx, &models.FulfillmentRequest{
				ID:      uuid.New(),
				OrderID: order.ID,
				Status:  enums.FulfillmentStatusNotStarted,
			})
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment request")
		}
		if request.Status == enums.FulfillmentStatusAccepted {
			return nil
		}

		// next_attempt_at bounds how long the row may sit in submitted
		// before the requeue sweep considers the dispatch dead.
		nextAttempt := time.Now().UTC().Add(s.cfg.RequeueAfter)
		if err := repo.Update(ctx, request.ID, map[string]any{
			"status":          enums.FulfillmentStatusSubmitted,
			"next_attempt_at": nextAttempt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark submitted")
		}
		request.Status = enums.FulfillmentStatusSubmitted
		claimed = request
		return nil
	})
	if err != nil {
		if coded := pkgerrors.As(err); coded != nil {
			return nil, coded
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim dispatch")
	}
	return claimed, nil
}

// submit calls the provider with exponential backoff. 4xx responses abort
// immediately; everything else retries up to the configured attempt budget.
func (s *service) submit(ctx context.Context, order *models.Order) (*printprovider.CreateOrderResponse, int, error) {
	req := printprovider.CreateOrderRequest{
		ExternalRef:    order.ID.String(),
		Recipient:      order.ShippingAddress,
		ShippingMethod: order.ShippingMethod.String(),
	}
	for _, line := range order.Lines {
		req.Items = append(req.Items, printprovider.OrderItem{
			SKU:      line.SKU,
			Quantity: line.Qty,
			AssetURL: line.AssetURL,
		})
	}

	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), retry.NewExponential(s.cfg.BaseBackoff))

	var response *printprovider.CreateOrderResponse
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if s.metrics != nil {
			s.metrics.IncDispatchAttempt()
		}
		resp, err := s.provider.CreateOrder(ctx, req)
		if err != nil {
			if printprovider.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return response, attempts, nil
}

func (s *service) recordSuccess(ctx context.Context, request *models.FulfillmentRequest, attempts int, providerRef string) (*DispatchResult, error) {
	now := time.Now().UTC()
	totalAttempts := request.AttemptCount + attempts

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, request.ID, map[string]any{
			"status":             enums.FulfillmentStatusAccepted,
			"provider_order_ref": providerRef,
			"attempt_count":      totalAttempts,
			"accepted_at":        now,
			"last_error":         nil,
			"next_attempt_at":    nil,
		}); err != nil {
			return fmt.Errorf("mark accepted: %w", err)
		}
		if err := s.ordersRepo.WithTx(tx).UpdateOrder(ctx, request.OrderID, map[string]any{
			"status":       enums.OrderStatusFulfilled,
			"fulfilled_at": now,
		}); err != nil {
			return fmt.Errorf("mark order fulfilled: %w", err)
		}

		event := payloads.FulfillmentAcceptedEvent{
			OrderID:          request.OrderID,
			ProviderOrderRef: providerRef,
			AttemptCount:     totalAttempts,
			AcceptedAt:       now,
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentAccepted,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   request.OrderID,
			Data:          event,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record dispatch success")
	}

	if s.metrics != nil {
		s.metrics.IncDispatchOutcome("accepted")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"provider_order_ref": providerRef,
		"attempts":           totalAttempts,
	}), "fulfillment accepted")

	return &DispatchResult{
		OrderID:          request.OrderID,
		Status:           enums.FulfillmentStatusAccepted,
		ProviderOrderRef: providerRef,
		AttemptCount:     totalAttempts,
	}, nil
}

func (s *service) recordFailure(ctx context.Context, request *models.FulfillmentRequest, attempts int, cause error) (*DispatchResult, error) {
	totalAttempts := request.AttemptCount + attempts
	retryable := printprovider.IsRetryable(cause)
	lastError := cause.Error()

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, request.ID, map[string]any{
			"status":          enums.FulfillmentStatusFailed,
			"attempt_count":   totalAttempts,
			"last_error":      lastError,
			"next_attempt_at": nil,
		}); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if err := s.ordersRepo.WithTx(tx).UpdateStatus(ctx, request.OrderID, enums.OrderStatusFulfillmentFailed); err != nil {
			return fmt.Errorf("mark order fulfillment_failed: %w", err)
		}

		event := payloads.FulfillmentFailedEvent{
			OrderID:      request.OrderID,
			AttemptCount: totalAttempts,
			LastError:    lastError,
			Retryable:    retryable,
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentFailed,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   request.OrderID,
			Data:          event,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record dispatch failure")
	}

	if s.metrics != nil {
		s.metrics.IncDispatchOutcome("failed")
	}
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"attempts":  totalAttempts,
		"retryable": retryable,
	}), "fulfillment dispatch failed", cause)

	return &DispatchResult{
		OrderID:      request.OrderID,
		Status:       enums.FulfillmentStatusFailed,
		AttemptCount: totalAttempts,
	}, nil
}

func (s *service) storedResult(ctx context.Context, orderID uuid.UUID) (*DispatchResult, error) {
	request, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment request")
	}
	result := &DispatchResult{
		OrderID:      orderID,
		Status:       request.Status,
		AttemptCount: request.AttemptCount,
	}
	if request.ProviderOrderRef != nil {
		result.ProviderOrderRef = *request.ProviderOrderRef
	}
	return result, nil
}

func (s *service) OperatorRetry(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.Status != enums.OrderStatusFulfillmentFailed {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in state %s cannot be retried", order.Status))
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		event := payloads.FulfillmentDispatchEvent{OrderID: orderID, Manual: true}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentDispatch,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   orderID,
			Data:          event,
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit manual dispatch")
	}

	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Info(logCtx, "manual fulfillment retry queued")
	return nil
}

func (s *service) OperatorComplete(ctx context.Context, orderID uuid.UUID, providerOrderRef string) error {
	if providerOrderRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider order ref is required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		lockedOrder, err := s.ordersRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
		}
		if lockedOrder.Status != enums.OrderStatusFulfillmentFailed {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order in state %s cannot be completed manually", lockedOrder.Status))
		}

		repo := s.repo.WithTx(tx)
		request, err := repo.FindByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment request")
		}

		now := time.Now().UTC()
		if err := repo.Update(ctx, request.ID, map[string]any{
			"status":             enums.FulfillmentStatusAccepted,
			"provider_order_ref": providerOrderRef,
			"accepted_at":        now,
			"last_error":         nil,
			"next_attempt_at":    nil,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark accepted")
		}
		if err := s.ordersRepo.WithTx(tx).UpdateOrder(ctx, orderID, map[string]any{
			"status":       enums.OrderStatusFulfilled,
			"fulfilled_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order fulfilled")
		}

		event := payloads.FulfillmentAcceptedEvent{
			OrderID:          orderID,
			ProviderOrderRef: providerOrderRef,
			AttemptCount:     request.AttemptCount,
			AcceptedAt:       now,
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentAccepted,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   orderID,
			Data:          event,
		})
	})
	if err != nil {
		if coded := pkgerrors.As(err); coded != nil {
			return coded
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete fulfillment")
	}

	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Info(logCtx, "fulfillment completed manually")
	return nil
}
