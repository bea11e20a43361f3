package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/pkg/enums"
)

// FulfillmentRequest tracks the submission of a paid order to the print
// provider. One row per order; failed rows feed the operator queue.
type FulfillmentRequest struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	ProviderOrderRef *string                 `gorm:"column:provider_order_ref"`
	AttemptCount     int                     `gorm:"column:attempt_count;not null;default:0"`
	Status           enums.FulfillmentStatus `gorm:"column:status;type:fulfillment_status;not null;default:'not_started'"`
	LastError        *string                 `gorm:"column:last_error"`
	NextAttemptAt    *time.Time              `gorm:"column:next_attempt_at"`
	AcceptedAt       *time.Time              `gorm:"column:accepted_at"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
