package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/pkg/enums"
)

// PaymentAttempt is one try at collecting payment for an order through the
// gateway. The idempotency key is unique so a replayed checkout returns the
// stored attempt; a partial unique index guarantees at most one succeeded
// attempt per order.
type PaymentAttempt struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID                  `gorm:"column:order_id;type:uuid;not null"`
	GatewayRef     string                     `gorm:"column:gateway_ref;not null;uniqueIndex"`
	ClientSecret   string                     `gorm:"column:client_secret;not null"`
	IdempotencyKey string                     `gorm:"column:idempotency_key;not null;uniqueIndex"`
	AmountCents    int                        `gorm:"column:amount_cents;not null"`
	Status         enums.PaymentAttemptStatus `gorm:"column:status;type:payment_attempt_status;not null;default:'created'"`
	FailureReason  *string                    `gorm:"column:failure_reason"`
	SucceededAt    *time.Time                 `gorm:"column:succeeded_at"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
