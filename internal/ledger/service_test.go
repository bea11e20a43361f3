package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/internal/affiliates"
	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
)

func TestBalanceFor(t *testing.T) {
	t.Parallel()

	marketerID := uuid.New()
	repo := &stubLedgerRepo{
		commissions: map[enums.AffiliateTransactionStatus]int64{
			enums.AffiliateTransactionStatusPending:   500,
			enums.AffiliateTransactionStatusCompleted: 4500,
		},
		payouts: map[enums.PayoutStatus]int64{
			enums.PayoutStatusPending:  1000,
			enums.PayoutStatusApproved: 500,
			enums.PayoutStatusPaid:     2000,
			enums.PayoutStatusRejected: 9999,
		},
	}
	svc := newTestService(t, repo, marketerID)

	balance, err := svc.BalanceFor(context.Background(), marketerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	if balance.EarnedCents != 5000 {
		t.Fatalf("earned = %d, want 5000", balance.EarnedCents)
	}
	if balance.PendingCents != 500 {
		t.Fatalf("pending = %d, want 500", balance.PendingCents)
	}
	if balance.ReservedCents != 1500 {
		t.Fatalf("reserved = %d, want 1500", balance.ReservedCents)
	}
	if balance.PaidOutCents != 2000 {
		t.Fatalf("paid out = %d, want 2000", balance.PaidOutCents)
	}
	// Rejected payouts stop counting; pending commission does count.
	if balance.AvailableCents != 1500 {
		t.Fatalf("available = %d, want 1500", balance.AvailableCents)
	}
}

func TestBalanceForCountsPendingCommission(t *testing.T) {
	t.Parallel()

	marketerID := uuid.New()
	repo := &stubLedgerRepo{
		commissions: map[enums.AffiliateTransactionStatus]int64{
			enums.AffiliateTransactionStatusPending: 1000,
		},
	}
	svc := newTestService(t, repo, marketerID)

	balance, err := svc.BalanceFor(context.Background(), marketerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.AvailableCents != 1000 {
		t.Fatalf("available = %d, want 1000 (pending commission is payable)", balance.AvailableCents)
	}
}

func TestBalanceForEmptyLedger(t *testing.T) {
	t.Parallel()

	marketerID := uuid.New()
	svc := newTestService(t, &stubLedgerRepo{}, marketerID)

	balance, err := svc.BalanceFor(context.Background(), marketerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.AvailableCents != 0 || balance.EarnedCents != 0 {
		t.Fatalf("empty ledger should be all zeros: %+v", balance)
	}
}

func TestBalanceForUnknownMarketer(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &stubLedgerRepo{}, uuid.New())

	_, err := svc.BalanceFor(context.Background(), uuid.New())
	if coded := pkgerrors.As(err); coded == nil || coded.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func newTestService(t *testing.T, repo Repository, knownMarketer uuid.UUID) Service {
	t.Helper()
	svc, err := NewService(repo, &stubAffiliatesRepo{knownID: knownMarketer})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

type stubLedgerRepo struct {
	commissions map[enums.AffiliateTransactionStatus]int64
	payouts     map[enums.PayoutStatus]int64
}

func (s *stubLedgerRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubLedgerRepo) CommissionSums(ctx context.Context, marketerID uuid.UUID) (map[enums.AffiliateTransactionStatus]int64, error) {
	return s.commissions, nil
}

func (s *stubLedgerRepo) PayoutSums(ctx context.Context, marketerID uuid.UUID) (map[enums.PayoutStatus]int64, error) {
	return s.payouts, nil
}

type stubAffiliatesRepo struct {
	knownID uuid.UUID
}

func (s *stubAffiliatesRepo) WithTx(tx *gorm.DB) affiliates.Repository { return s }

func (s *stubAffiliatesRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Marketer, error) {
	if id == s.knownID {
		return &models.Marketer{ID: id}, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubAffiliatesRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Marketer, error) {
	return s.FindByID(ctx, id)
}

func (s *stubAffiliatesRepo) FindByCode(ctx context.Context, affiliateCode string) (*models.Marketer, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubAffiliatesRepo) IncrementClicks(ctx context.Context, id uuid.UUID) error { return nil }

func (s *stubAffiliatesRepo) IncrementEarnings(ctx context.Context, id uuid.UUID, amountCents int64) error {
	return nil
}

func (s *stubAffiliatesRepo) CreateTransaction(ctx context.Context, txn *models.AffiliateTransaction) (*models.AffiliateTransaction, error) {
	return txn, nil
}

func (s *stubAffiliatesRepo) FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.AffiliateTransaction, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubAffiliatesRepo) FindTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*models.AffiliateTransaction, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubAffiliatesRepo) CompleteTransaction(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	return nil
}

func (s *stubAffiliatesRepo) ListTransactions(ctx context.Context, marketerID uuid.UUID) ([]models.AffiliateTransaction, error) {
	return nil, nil
}
