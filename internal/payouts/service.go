package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/internal/affiliates"
	"github.com/printloop/printloop-backend/internal/ledger"
	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/payloads"
	"github.com/printloop/printloop-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type balanceReader interface {
	BalanceForTx(ctx context.Context, tx *gorm.DB, marketerID uuid.UUID) (*ledger.Balance, error)
}

type pipelineMetrics interface {
	IncPayout(outcome string)
}

// Service handles payout requests and admin decisions over them.
type Service interface {
	// Request creates a pending payout after checking the marketer's
	// available balance under a row lock. Returns the request and the
	// balance after reservation.
	Request(ctx context.Context, marketerID uuid.UUID, amountCents int) (*RequestResult, error)
	// Decide moves a payout through the admin flow:
	// pending -> approved | rejected, approved -> paid.
	Decide(ctx context.Context, payoutID uuid.UUID, next enums.PayoutStatus) (*models.PayoutRequest, error)
	Get(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	List(ctx context.Context, params pagination.Params, filters PayoutFilters) (*PayoutList, error)
}

// RequestResult is the outcome of a successful payout request.
type RequestResult struct {
	Payout  *models.PayoutRequest `json:"payout"`
	Balance *ledger.Balance       `json:"balance"`
}

type service struct {
	tx             txRunner
	repo           Repository
	affiliatesRepo affiliates.Repository
	balances       balanceReader
	outbox         outboxPublisher
	metrics        pipelineMetrics
	minimumCents   int
	logg           *logger.Logger
}

// NewService builds the payouts service.
func NewService(
	tx txRunner,
	repo Repository,
	affiliatesRepo affiliates.Repository,
	balances balanceReader,
	publisher outboxPublisher,
	metrics pipelineMetrics,
	minimumCents int,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if affiliatesRepo == nil {
		return nil, fmt.Errorf("affiliates repository required")
	}
	if balances == nil {
		return nil, fmt.Errorf("balance reader required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:             tx,
		repo:           repo,
		affiliatesRepo: affiliatesRepo,
		balances:       balances,
		outbox:         publisher,
		metrics:        metrics,
		minimumCents:   minimumCents,
		logg:           logg,
	}, nil
}

func (s *service) Request(ctx context.Context, marketerID uuid.UUID, amountCents int) (*RequestResult, error) {
	if amountCents <= 0 {
		s.incPayout("rejected")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "payout amount must be positive")
	}
	if amountCents < s.minimumCents {
		s.incPayout("rejected")
		return nil, pkgerrors.New(pkgerrors.CodeBelowMinimum,
			fmt.Sprintf("payout amount below minimum of %d cents", s.minimumCents)).
			WithDetails(map[string]any{"minimum_cents": s.minimumCents})
	}

	var result RequestResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// The lock serializes concurrent requests from the same marketer
		// so the balance recompute below cannot race another insert.
		if _, err := s.affiliatesRepo.WithTx(tx).FindByIDForUpdate(ctx, marketerID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "marketer not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock marketer")
		}

		balance, err := s.balances.BalanceForTx(ctx, tx, marketerID)
		if err != nil {
			return err
		}
		if int64(amountCents) > balance.AvailableCents {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "available balance too low").
				WithDetails(map[string]any{"available_cents": balance.AvailableCents})
		}

		payout := &models.PayoutRequest{
			ID:          uuid.New(),
			MarketerID:  marketerID,
			AmountCents: amountCents,
			Status:      enums.PayoutStatusPending,
		}
		if _, err := s.repo.WithTx(tx).Create(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payout request")
		}

		event := payloads.PayoutRequestedEvent{
			PayoutID:    payout.ID,
			MarketerID:  marketerID,
			AmountCents: int64(amountCents),
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Data:          event,
		}); err != nil {
			return err
		}

		balance.ReservedCents += int64(amountCents)
		balance.AvailableCents -= int64(amountCents)
		result = RequestResult{Payout: payout, Balance: balance}
		return nil
	})
	if err != nil {
		if coded := pkgerrors.As(err); coded != nil {
			if coded.Code() == pkgerrors.CodeInsufficientBalance {
				s.incPayout("insufficient")
			}
			return nil, coded
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "request payout")
	}

	s.incPayout("requested")
	logCtx := s.logg.WithMarketerID(ctx, marketerID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"payout_id":    result.Payout.ID.String(),
		"amount_cents": amountCents,
	}), "payout requested")
	return &result, nil
}

func (s *service) Decide(ctx context.Context, payoutID uuid.UUID, next enums.PayoutStatus) (*models.PayoutRequest, error) {
	if !next.IsValid() || next == enums.PayoutStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("invalid payout decision %q", next))
	}

	var decided *models.PayoutRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		payout, err := repo.FindByIDForUpdate(ctx, payoutID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payout request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payout request")
		}
		if payout.Status == next {
			decided = payout
			return nil
		}
		if !payout.Status.CanTransitionTo(next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("payout cannot move from %s to %s", payout.Status, next)).
				WithDetails(map[string]any{"current_status": payout.Status})
		}

		now := time.Now().UTC()
		if err := repo.Update(ctx, payoutID, map[string]any{
			"status":     next,
			"decided_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payout request")
		}
		payout.Status = next
		payout.DecidedAt = &now

		event := payloads.PayoutDecidedEvent{
			PayoutID:   payout.ID,
			MarketerID: payout.MarketerID,
			Status:     next,
			DecidedAt:  now,
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutDecided,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Data:          event,
		}); err != nil {
			return err
		}

		decided = payout
		return nil
	})
	if err != nil {
		if coded := pkgerrors.As(err); coded != nil {
			return nil, coded
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decide payout")
	}

	s.incPayout(string(decided.Status))
	logCtx := s.logg.WithMarketerID(ctx, decided.MarketerID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"payout_id": decided.ID.String(),
		"status":    decided.Status.String(),
	}), "payout decided")
	return decided, nil
}

func (s *service) Get(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	payout, err := s.repo.FindByID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout request")
	}
	return payout, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters PayoutFilters) (*PayoutList, error) {
	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payout requests")
	}
	return list, nil
}

func (s *service) incPayout(outcome string) {
	if s.metrics != nil {
		s.metrics.IncPayout(outcome)
	}
}
