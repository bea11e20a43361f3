package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/pkg/enums"
	"github.com/printloop/printloop-backend/pkg/types"
)

// Order is the priced, immutable record of a customer's purchase intent.
// Line prices are copied from the cart snapshot at checkout and never
// recomputed from the catalog.
type Order struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID      uuid.UUID            `gorm:"column:customer_id;type:uuid;not null"`
	Status          enums.OrderStatus    `gorm:"column:status;type:order_status;not null;default:'pending_payment'"`
	Currency        enums.Currency       `gorm:"column:currency;type:text;not null;default:'USD'"`
	SubtotalCents   int                  `gorm:"column:subtotal_cents;not null"`
	TotalCents      int                  `gorm:"column:total_cents;not null"`
	ReferralCode    *string              `gorm:"column:referral_code"`
	ShippingAddress types.Address        `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	ShippingMethod  enums.ShippingMethod `gorm:"column:shipping_method;type:text;not null;default:'standard'"`
	Lines           []OrderLine          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PaymentAttempts []PaymentAttempt     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PaidAt          *time.Time           `gorm:"column:paid_at"`
	FulfilledAt     *time.Time           `gorm:"column:fulfilled_at"`
	CanceledAt      *time.Time           `gorm:"column:canceled_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
