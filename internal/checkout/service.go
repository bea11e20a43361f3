// Package checkout orchestrates the pipeline from cart to paid order:
// pricing and stock validation, order creation, gateway intent setup and
// the payment confirmation/failure transitions.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	stripego "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/internal/catalog"
	"github.com/printloop/printloop-backend/internal/orders"
	"github.com/printloop/printloop-backend/pkg/db"
	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/payloads"
	"github.com/printloop/printloop-backend/pkg/stripe"
	"github.com/printloop/printloop-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type paymentGateway interface {
	CreatePaymentIntent(ctx context.Context, params stripe.CreateIntentParams) (*stripego.PaymentIntent, error)
}

type pipelineMetrics interface {
	IncCheckout(outcome string)
	IncPayment(result string)
}

// Service executes checkout orchestration.
type Service interface {
	Begin(ctx context.Context, input BeginInput) (*CheckoutResult, error)
	// ConfirmPayment transitions the order to paid. Safe to call more
	// than once for the same gateway reference.
	ConfirmPayment(ctx context.Context, gatewayRef string) error
	// FailPayment cancels the order after a terminal gateway failure.
	FailPayment(ctx context.Context, gatewayRef string, reason string) error
}

// CartLine is one requested product at checkout.
type CartLine struct {
	ProductID uuid.UUID
	Qty       int
}

// BeginInput captures everything needed to open a checkout.
type BeginInput struct {
	CustomerID      uuid.UUID
	Lines           []CartLine
	Currency        enums.Currency
	ShippingAddress types.Address
	ShippingMethod  enums.ShippingMethod
	ReferralCode    *string
	// IdempotencyKey is the caller-supplied replay key. A repeated key
	// returns the stored attempt without a second gateway call.
	IdempotencyKey string
}

// CheckoutResult is returned to the storefront so it can complete payment.
type CheckoutResult struct {
	OrderID      uuid.UUID      `json:"order_id"`
	GatewayRef   string         `json:"gateway_ref"`
	ClientSecret string         `json:"client_secret"`
	AmountCents  int            `json:"amount_cents"`
	Currency     enums.Currency `json:"currency"`
}

type service struct {
	tx          txRunner
	ordersRepo  orders.Repository
	catalogRepo catalog.Repository
	gateway     paymentGateway
	outbox      outboxPublisher
	metrics     pipelineMetrics
	logg        *logger.Logger
}

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	catalogRepo catalog.Repository,
	gateway paymentGateway,
	publisher outboxPublisher,
	metrics pipelineMetrics,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:          tx,
		ordersRepo:  ordersRepo,
		catalogRepo: catalogRepo,
		gateway:     gateway,
		outbox:      publisher,
		metrics:     metrics,
		logg:        logg,
	}, nil
}

// gatewayCallTimeout bounds the payment intent call; the gateway is
// never reached while DB rows are locked.
const gatewayCallTimeout = 15 * time.Second

func (s *service) Begin(ctx context.Context, input BeginInput) (*CheckoutResult, error) {
	if err := validateBeginInput(input); err != nil {
		s.incCheckout("rejected")
		return nil, err
	}

	idempotencyKey := strings.TrimSpace(input.IdempotencyKey)
	if idempotencyKey != "" {
		idempotencyKey = "checkout:" + idempotencyKey
		stored, err := s.storedCheckout(ctx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			s.incCheckout("replayed")
			return stored, nil
		}
	}

	orderID := uuid.New()
	if idempotencyKey == "" {
		idempotencyKey = "checkout:" + orderID.String()
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := s.ordersRepo.WithTx(tx)
		catalogRepo := s.catalogRepo.WithTx(tx)

		productIDs := make([]uuid.UUID, 0, len(input.Lines))
		for _, line := range input.Lines {
			productIDs = append(productIDs, line.ProductID)
		}

		products, err := catalogRepo.FindByIDsForUpdate(ctx, productIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		byID := make(map[uuid.UUID]models.Product, len(products))
		for _, product := range products {
			byID[product.ID] = product
		}

		subtotal := 0
		orderLines := make([]models.OrderLine, 0, len(input.Lines))
		for _, line := range input.Lines {
			product, ok := byID[line.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", line.ProductID))
			}
			if product.StockQty < line.Qty {
				return pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("insufficient stock for %s", product.SKU))
			}
			lineTotal := product.UnitPriceCents * line.Qty
			subtotal += lineTotal
			orderLines = append(orderLines, models.OrderLine{
				OrderID:        orderID,
				ProductID:      product.ID,
				SKU:            product.SKU,
				Name:           product.Title,
				AssetURL:       product.AssetURL,
				UnitPriceCents: product.UnitPriceCents,
				Qty:            line.Qty,
				TotalCents:     lineTotal,
			})
		}

		order = &models.Order{
			ID:              orderID,
			CustomerID:      input.CustomerID,
			Status:          enums.OrderStatusPendingPayment,
			Currency:        input.Currency,
			SubtotalCents:   subtotal,
			TotalCents:      subtotal,
			ReferralCode:    input.ReferralCode,
			ShippingAddress: input.ShippingAddress,
			ShippingMethod:  input.ShippingMethod,
			Lines:           orderLines,
		}
		if _, err := ordersRepo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return nil
	})
	if err != nil {
		s.incCheckout("rejected")
		return nil, err
	}

	// The order row is committed, so no lock is held across the gateway
	// call and a hung gateway cannot stall catalog writes.
	gatewayCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()
	intent, err := s.gateway.CreatePaymentIntent(gatewayCtx, stripe.CreateIntentParams{
		AmountCents:    int64(order.TotalCents),
		Currency:       string(order.Currency),
		OrderID:        orderID.String(),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.expireAbandoned(ctx, orderID)
		s.incCheckout("rejected")
		return nil, err
	}

	attempt := &models.PaymentAttempt{
		OrderID:        orderID,
		GatewayRef:     intent.ID,
		ClientSecret:   intent.ClientSecret,
		IdempotencyKey: idempotencyKey,
		AmountCents:    order.TotalCents,
		Status:         enums.PaymentAttemptStatusCreated,
	}
	if _, err := s.ordersRepo.CreatePaymentAttempt(ctx, attempt); err != nil {
		// A concurrent request with the same key won the insert. Its
		// attempt is the durable answer; this order is surplus.
		if db.IsUniqueViolation(err, "idx_payment_attempts_idempotency_key") {
			if stored, lookupErr := s.storedCheckout(ctx, idempotencyKey); lookupErr == nil && stored != nil {
				s.expireAbandoned(ctx, orderID)
				s.incCheckout("replayed")
				return stored, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment attempt")
	}

	s.incCheckout("created")
	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Info(logCtx, "checkout opened")
	return &CheckoutResult{
		OrderID:      orderID,
		GatewayRef:   intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  order.TotalCents,
		Currency:     order.Currency,
	}, nil
}

// storedCheckout returns the checkout previously opened under the key, or
// nil when the key is unseen.
func (s *service) storedCheckout(ctx context.Context, idempotencyKey string) (*CheckoutResult, error) {
	attempt, err := s.ordersRepo.FindPaymentAttemptByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}
	order, err := s.ordersRepo.FindByID(ctx, attempt.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &CheckoutResult{
		OrderID:      attempt.OrderID,
		GatewayRef:   attempt.GatewayRef,
		ClientSecret: attempt.ClientSecret,
		AmountCents:  attempt.AmountCents,
		Currency:     order.Currency,
	}, nil
}

func (s *service) expireAbandoned(ctx context.Context, orderID uuid.UUID) {
	if err := s.ordersRepo.ExpireOrder(ctx, orderID, time.Now()); err != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Warn(logCtx, fmt.Sprintf("expire abandoned checkout: %v", err))
	}
}

func (s *service) ConfirmPayment(ctx context.Context, gatewayRef string) error {
	if gatewayRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway ref required")
	}

	var duplicate bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := s.ordersRepo.WithTx(tx)
		catalogRepo := s.catalogRepo.WithTx(tx)

		attempt, err := ordersRepo.FindPaymentAttemptByGatewayRef(ctx, gatewayRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
		}

		order, err := ordersRepo.FindByIDForUpdate(ctx, attempt.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}

		// Replayed confirmation or confirmation after cancel: the first
		// outcome stands.
		if order.Status != enums.OrderStatusPendingPayment {
			duplicate = true
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Info(logCtx, fmt.Sprintf("payment confirmation ignored in state %s", order.Status))
			return nil
		}

		now := time.Now()
		if err := ordersRepo.UpdatePaymentAttempt(ctx, attempt.ID, map[string]any{
			"status":       enums.PaymentAttemptStatusSucceeded,
			"succeeded_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark attempt succeeded")
		}

		full, err := ordersRepo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
		}
		for _, line := range full.Lines {
			if err := catalogRepo.DecrementStock(ctx, line.ProductID, line.Qty); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// Stock ran out between checkout and payment. The
					// charge already landed, so the order proceeds and
					// the shortfall is surfaced for the catalog owner.
					logCtx := s.logg.WithOrderID(ctx, order.ID.String())
					s.logg.Warn(logCtx, fmt.Sprintf("stock underflow on %s", line.SKU))
					continue
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
			}
		}

		if err := ordersRepo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":  enums.OrderStatusPaid,
			"paid_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderPaidEvent{
				OrderID:      order.ID,
				CustomerID:   order.CustomerID,
				TotalCents:   int64(order.TotalCents),
				Currency:     order.Currency,
				ReferralCode: order.ReferralCode,
				PaidAt:       now,
			},
		})
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		if duplicate {
			s.metrics.IncPayment("duplicate")
		} else {
			s.metrics.IncPayment("confirmed")
		}
	}
	return nil
}

func (s *service) FailPayment(ctx context.Context, gatewayRef string, reason string) error {
	if gatewayRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway ref required")
	}

	var duplicate bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := s.ordersRepo.WithTx(tx)

		attempt, err := ordersRepo.FindPaymentAttemptByGatewayRef(ctx, gatewayRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
		}

		order, err := ordersRepo.FindByIDForUpdate(ctx, attempt.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}

		// A failure arriving after the order was paid (or already
		// canceled) changes nothing.
		if order.Status != enums.OrderStatusPendingPayment {
			duplicate = true
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Info(logCtx, fmt.Sprintf("payment failure ignored in state %s", order.Status))
			return nil
		}

		now := time.Now()
		if err := ordersRepo.UpdatePaymentAttempt(ctx, attempt.ID, map[string]any{
			"status":         enums.PaymentAttemptStatusFailed,
			"failure_reason": reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark attempt failed")
		}

		if err := ordersRepo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":      enums.OrderStatusCanceled,
			"canceled_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}

		// Stock is only decremented at confirmation, so there is nothing
		// to release here.
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderCanceledEvent{
				OrderID:    order.ID,
				Reason:     reason,
				CanceledAt: now,
			},
		})
	})
	if err != nil {
		return err
	}

	if s.metrics != nil && !duplicate {
		s.metrics.IncPayment("failed")
	}
	return nil
}

func validateBeginInput(input BeginInput) error {
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
	}
	for _, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
	}
	if !input.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	if !input.ShippingMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported shipping method")
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	return nil
}

func (s *service) incCheckout(outcome string) {
	if s.metrics != nil {
		s.metrics.IncCheckout(outcome)
	}
}
