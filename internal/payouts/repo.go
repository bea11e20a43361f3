// Package payouts turns available commission into payout requests and runs
// the admin decision flow over them.
package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	"github.com/printloop/printloop-backend/pkg/pagination"
)

// Repository defines persistence operations for payout requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payout *models.PayoutRequest) (*models.PayoutRequest, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	// FindByIDForUpdate locks the payout row so concurrent decisions
	// serialize.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	List(ctx context.Context, params pagination.Params, filters PayoutFilters) (*PayoutList, error)
}

// PayoutFilters narrows payout listings.
type PayoutFilters struct {
	MarketerID *uuid.UUID
	Status     *enums.PayoutStatus
}

// PayoutList is one page of payout requests.
type PayoutList struct {
	Payouts    []models.PayoutRequest `json:"payouts"`
	NextCursor *string                `json:"next_cursor,omitempty"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payouts repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payout *models.PayoutRequest) (*models.PayoutRequest, error) {
	if err := r.db.WithContext(ctx).Create(payout).Error; err != nil {
		return nil, err
	}
	return payout, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters PayoutFilters) (*PayoutList, error) {
	query := r.db.WithContext(ctx).Model(&models.PayoutRequest{})
	if filters.MarketerID != nil {
		query = query.Where("marketer_id = ?", *filters.MarketerID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var payouts []models.PayoutRequest
	err = query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}

	list := &PayoutList{Payouts: payouts}
	if len(payouts) > limit {
		list.Payouts = payouts[:limit]
		last := list.Payouts[limit-1]
		next := pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		list.NextCursor = &next
	}
	return list, nil
}
