// Package fulfillment submits paid orders to the print provider and tracks
// the outcome per order. Failed submissions land in the operator queue.
package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
)

// Repository defines persistence operations for fulfillment requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.FulfillmentRequest) (*models.FulfillmentRequest, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.FulfillmentRequest, error)
	// FindByOrderIDForUpdate locks the row so concurrent dispatches of the
	// same order serialize.
	FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.FulfillmentRequest, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// ListStale returns submitted requests whose next_attempt_at elapsed
	// before cutoff, ordered oldest first. These are dispatches that died
	// mid-flight and need a requeue.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.FulfillmentRequest, error)
	ListByStatus(ctx context.Context, status enums.FulfillmentStatus, limit int) ([]models.FulfillmentRequest, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a fulfillment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.FulfillmentRequest) (*models.FulfillmentRequest, error) {
	if err := r.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.FulfillmentRequest, error) {
	var request models.FulfillmentRequest
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.FulfillmentRequest, error) {
	var request models.FulfillmentRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.FulfillmentRequest{}).
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

func (r *repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.FulfillmentRequest, error) {
	var requests []models.FulfillmentRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at < ?",
			enums.FulfillmentStatusSubmitted, cutoff).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.FulfillmentStatus, limit int) ([]models.FulfillmentRequest, error) {
	var requests []models.FulfillmentRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}
