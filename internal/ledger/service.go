package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/internal/affiliates"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
)

// Balance is a marketer's commission ledger rolled up at read time.
// AvailableCents counts all earned commission, pending included, minus
// every payout that was requested and not rejected. The dispute window
// gates the admin approving a payout, not the marketer requesting one.
type Balance struct {
	MarketerID     uuid.UUID `json:"marketer_id"`
	EarnedCents    int64     `json:"earned_cents"`
	PendingCents   int64     `json:"pending_cents"`
	CompletedCents int64     `json:"completed_cents"`
	ReservedCents  int64     `json:"reserved_cents"`
	PaidOutCents   int64     `json:"paid_out_cents"`
	AvailableCents int64     `json:"available_cents"`
}

// Service computes marketer balances.
type Service interface {
	// BalanceFor reads the marketer's balance outside any transaction.
	BalanceFor(ctx context.Context, marketerID uuid.UUID) (*Balance, error)
	// BalanceForTx recomputes the balance inside the caller's transaction,
	// for use under a marketer row lock.
	BalanceForTx(ctx context.Context, tx *gorm.DB, marketerID uuid.UUID) (*Balance, error)
}

type service struct {
	repo           Repository
	affiliatesRepo affiliates.Repository
}

// NewService builds the ledger service.
func NewService(repo Repository, affiliatesRepo affiliates.Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if affiliatesRepo == nil {
		return nil, fmt.Errorf("affiliates repository required")
	}
	return &service{repo: repo, affiliatesRepo: affiliatesRepo}, nil
}

func (s *service) BalanceFor(ctx context.Context, marketerID uuid.UUID) (*Balance, error) {
	if _, err := s.affiliatesRepo.FindByID(ctx, marketerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "marketer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load marketer")
	}
	return s.compute(ctx, s.repo, marketerID)
}

func (s *service) BalanceForTx(ctx context.Context, tx *gorm.DB, marketerID uuid.UUID) (*Balance, error) {
	return s.compute(ctx, s.repo.WithTx(tx), marketerID)
}

func (s *service) compute(ctx context.Context, repo Repository, marketerID uuid.UUID) (*Balance, error) {
	commissions, err := repo.CommissionSums(ctx, marketerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum commissions")
	}
	payouts, err := repo.PayoutSums(ctx, marketerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum payouts")
	}

	balance := &Balance{
		MarketerID:     marketerID,
		PendingCents:   commissions[enums.AffiliateTransactionStatusPending],
		CompletedCents: commissions[enums.AffiliateTransactionStatusCompleted],
		ReservedCents:  payouts[enums.PayoutStatusPending] + payouts[enums.PayoutStatusApproved],
		PaidOutCents:   payouts[enums.PayoutStatusPaid],
	}
	balance.EarnedCents = balance.PendingCents + balance.CompletedCents
	balance.AvailableCents = balance.EarnedCents - balance.ReservedCents - balance.PaidOutCents
	return balance, nil
}
