package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/pkg/enums"
)

// AffiliateTransaction is one commission credit, frozen at attribution time.
// Rows are append-only; the unique (marketer_id, order_id) index enforces at
// most one attribution per order.
type AffiliateTransaction struct {
	ID               uuid.UUID                        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MarketerID       uuid.UUID                        `gorm:"column:marketer_id;type:uuid;not null;uniqueIndex:ux_affiliate_transactions_marketer_order"`
	OrderID          uuid.UUID                        `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_affiliate_transactions_marketer_order"`
	OrderAmountCents int                              `gorm:"column:order_amount_cents;not null"`
	CommissionCents  int                              `gorm:"column:commission_cents;not null"`
	Status           enums.AffiliateTransactionStatus `gorm:"column:status;type:affiliate_transaction_status;not null;default:'pending'"`
	CompletedAt      *time.Time                       `gorm:"column:completed_at"`
	CreatedAt        time.Time                        `gorm:"column:created_at;autoCreateTime"`
}
