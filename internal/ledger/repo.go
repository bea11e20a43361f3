// Package ledger computes marketer balances from the append-only commission
// and payout logs. It holds no state of its own: every number is an
// aggregate over affiliate_transactions and payout_requests.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
)

// Repository runs the aggregate queries backing a balance.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// CommissionSums returns total commission cents per transaction status.
	CommissionSums(ctx context.Context, marketerID uuid.UUID) (map[enums.AffiliateTransactionStatus]int64, error)
	// PayoutSums returns total payout cents per payout status.
	PayoutSums(ctx context.Context, marketerID uuid.UUID) (map[enums.PayoutStatus]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

type statusSum struct {
	Status string
	Total  int64
}

func (r *repository) CommissionSums(ctx context.Context, marketerID uuid.UUID) (map[enums.AffiliateTransactionStatus]int64, error) {
	var rows []statusSum
	err := r.db.WithContext(ctx).
		Model(&models.AffiliateTransaction{}).
		Select("status, COALESCE(SUM(commission_cents), 0) AS total").
		Where("marketer_id = ?", marketerID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := make(map[enums.AffiliateTransactionStatus]int64, len(rows))
	for _, row := range rows {
		sums[enums.AffiliateTransactionStatus(row.Status)] = row.Total
	}
	return sums, nil
}

func (r *repository) PayoutSums(ctx context.Context, marketerID uuid.UUID) (map[enums.PayoutStatus]int64, error) {
	var rows []statusSum
	err := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Select("status, COALESCE(SUM(amount_cents), 0) AS total").
		Where("marketer_id = ?", marketerID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := make(map[enums.PayoutStatus]int64, len(rows))
	for _, row := range rows {
		sums[enums.PayoutStatus(row.Status)] = row.Total
	}
	return sums, nil
}
