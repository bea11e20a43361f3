package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	"github.com/printloop/printloop-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and payment attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindByIDForUpdate locks the order row; payment confirmation and
	// failure handlers serialize on it.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) error
	ListPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	// ExpireOrder cancels an order only while it is still pending payment,
	// so a confirmation landing mid-sweep wins the race.
	ExpireOrder(ctx context.Context, id uuid.UUID, canceledAt time.Time) error
	List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error)
	CreatePaymentAttempt(ctx context.Context, attempt *models.PaymentAttempt) (*models.PaymentAttempt, error)
	FindPaymentAttemptByGatewayRef(ctx context.Context, gatewayRef string) (*models.PaymentAttempt, error)
	FindPaymentAttemptByIdempotencyKey(ctx context.Context, key string) (*models.PaymentAttempt, error)
	UpdatePaymentAttempt(ctx context.Context, id uuid.UUID, updates map[string]any) error
}
