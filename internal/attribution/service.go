// Package attribution credits affiliate marketers for paid orders. A
// commission is frozen at attribution time from the order total and the
// marketer's current rate, and recorded exactly once per order.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/internal/affiliates"
	"github.com/printloop/printloop-backend/internal/orders"
	"github.com/printloop/printloop-backend/pkg/db"
	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type pipelineMetrics interface {
	IncCommission()
}

// Service resolves referral codes into commission credits.
type Service interface {
	// Attribute credits the marketer referenced by the order's referral
	// code. Orders without a code, or with a code no marketer owns, are
	// skipped without error. Calling twice for the same order is a no-op.
	Attribute(ctx context.Context, orderID uuid.UUID) error
	// Complete settles a commission once its order's dispute window has
	// passed. Settlement is what lets an admin approve a payout that
	// draws on it; the amount is payable from accrual.
	Complete(ctx context.Context, transactionID uuid.UUID) error
	RecordClick(ctx context.Context, affiliateCode string) error
}

type service struct {
	tx             txRunner
	ordersRepo     orders.Repository
	affiliatesRepo affiliates.Repository
	outbox         outboxPublisher
	metrics        pipelineMetrics
	logg           *logger.Logger
}

// NewService builds the attribution service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	affiliatesRepo affiliates.Repository,
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
	if affiliatesRepo == nil {
		return nil, fmt.Errorf("affiliates repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:             tx,
		ordersRepo:     ordersRepo,
		affiliatesRepo: affiliatesRepo,
		outbox:         publisher,
		metrics:        metrics,
		logg:           logg,
	}, nil
}

func (s *service) Attribute(ctx context.Context, orderID uuid.UUID) error {
	logCtx := s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}

	if order.ReferralCode == nil || *order.ReferralCode == "" {
		return nil
	}

	marketer, err := s.affiliatesRepo.FindByCode(ctx, *order.ReferralCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Info(s.logg.WithField(logCtx, "referral_code", *order.ReferralCode),
				"referral code has no marketer, skipping attribution")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve marketer")
	}
	logCtx = s.logg.WithMarketerID(logCtx, marketer.ID.String())

	existing, err := s.affiliatesRepo.FindTransactionByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing attribution")
	}
	if existing != nil {
		s.logg.Info(logCtx, "order already attributed, skipping")
		return nil
	}

	commissionCents := CommissionCents(order.TotalCents, marketer.CommissionRate)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.affiliatesRepo.WithTx(tx)

		txn := &models.AffiliateTransaction{
			ID:               uuid.New(),
			MarketerID:       marketer.ID,
			OrderID:          orderID,
			OrderAmountCents: order.TotalCents,
			CommissionCents:  commissionCents,
			Status:           enums.AffiliateTransactionStatusPending,
		}
		if _, err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := repo.IncrementEarnings(ctx, marketer.ID, int64(commissionCents)); err != nil {
			return fmt.Errorf("increment earnings: %w", err)
		}

		event := payloads.CommissionAccruedEvent{
			TransactionID:    txn.ID,
			MarketerID:       marketer.ID,
			OrderID:          orderID,
			OrderAmountCents: int64(order.TotalCents),
			CommissionCents:  int64(commissionCents),
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCommissionAccrued,
			AggregateType: enums.AggregateAffiliate,
			AggregateID:   txn.ID,
			Data:          event,
		})
	})
	if err != nil {
		// Duplicate delivery raced us past the existence check. The
		// unique index holds the earlier row, nothing to do.
		if db.IsUniqueViolation(err, "ux_affiliate_transactions_marketer_order") {
			s.logg.Info(logCtx, "concurrent attribution already recorded")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record attribution")
	}

	if s.metrics != nil {
		s.metrics.IncCommission()
	}
	s.logg.Info(s.logg.WithField(logCtx, "commission_cents", commissionCents), "commission accrued")
	return nil
}

func (s *service) Complete(ctx context.Context, transactionID uuid.UUID) error {
	txn, err := s.affiliatesRepo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "affiliate transaction not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load affiliate transaction")
	}
	if txn.Status == enums.AffiliateTransactionStatusCompleted {
		return nil
	}

	now := time.Now().UTC()
	if err := s.affiliatesRepo.CompleteTransaction(ctx, transactionID, now); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Already completed by a concurrent call.
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete affiliate transaction")
	}

	logCtx := s.logg.WithMarketerID(ctx, txn.MarketerID.String())
	s.logg.Info(s.logg.WithField(logCtx, "transaction_id", transactionID.String()), "commission completed")
	return nil
}

func (s *service) RecordClick(ctx context.Context, affiliateCode string) error {
	marketer, err := s.affiliatesRepo.FindByCode(ctx, affiliateCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "unknown affiliate code")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve marketer")
	}
	if err := s.affiliatesRepo.IncrementClicks(ctx, marketer.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment clicks")
	}
	return nil
}

// CommissionCents applies the marketer's rate to the order total, rounding
// half up to the nearest cent.
func CommissionCents(orderTotalCents int, rate decimal.Decimal) int {
	total := decimal.NewFromInt(int64(orderTotalCents))
	return int(total.Mul(rate).Round(0).IntPart())
}
