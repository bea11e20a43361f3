// Package affiliates holds persistence for marketers and their commission
// transactions. Business rules live in the attribution and payout services.
package affiliates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
)

// Repository defines persistence operations for marketers and affiliate
// transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByID(ctx context.Context, id uuid.UUID) (*models.Marketer, error)
	// FindByIDForUpdate locks the marketer row so balance checks and
	// earnings updates serialize.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Marketer, error)
	FindByCode(ctx context.Context, affiliateCode string) (*models.Marketer, error)
	IncrementClicks(ctx context.Context, id uuid.UUID) error
	IncrementEarnings(ctx context.Context, id uuid.UUID, amountCents int64) error

	CreateTransaction(ctx context.Context, txn *models.AffiliateTransaction) (*models.AffiliateTransaction, error)
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.AffiliateTransaction, error)
	FindTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*models.AffiliateTransaction, error)
	CompleteTransaction(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	ListTransactions(ctx context.Context, marketerID uuid.UUID) ([]models.AffiliateTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an affiliates repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Marketer, error) {
	var marketer models.Marketer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&marketer).Error
	if err != nil {
		return nil, err
	}
	return &marketer, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Marketer, error) {
	var marketer models.Marketer
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&marketer).Error
	if err != nil {
		return nil, err
	}
	return &marketer, nil
}

func (r *repository) FindByCode(ctx context.Context, affiliateCode string) (*models.Marketer, error) {
	var marketer models.Marketer
	err := r.db.WithContext(ctx).Where("affiliate_code = ?", affiliateCode).First(&marketer).Error
	if err != nil {
		return nil, err
	}
	return &marketer, nil
}

func (r *repository) IncrementClicks(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Marketer{}).
		Where("id = ?", id).
		UpdateColumn("click_count", gorm.Expr("click_count + 1")).Error
}

func (r *repository) IncrementEarnings(ctx context.Context, id uuid.UUID, amountCents int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Marketer{}).
		Where("id = ?", id).
		UpdateColumn("total_earnings_cents", gorm.Expr("total_earnings_cents + ?", amountCents))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.AffiliateTransaction) (*models.AffiliateTransaction, error) {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *repository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.AffiliateTransaction, error) {
	var txn models.AffiliateTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*models.AffiliateTransaction, error) {
	var txn models.AffiliateTransaction
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) CompleteTransaction(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.AffiliateTransaction{}).
		Where("id = ?", id).
		Where("status = ?", enums.AffiliateTransactionStatusPending).
		Updates(map[string]any{
			"status":       enums.AffiliateTransactionStatusCompleted,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListTransactions(ctx context.Context, marketerID uuid.UUID) ([]models.AffiliateTransaction, error) {
	var txns []models.AffiliateTransaction
	err := r.db.WithContext(ctx).
		Where("marketer_id = ?", marketerID).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
