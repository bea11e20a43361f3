package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/pkg/enums"
)

// PayoutRequest is a marketer's ask to convert available commission into a
// real payment. Pending, approved and paid rows all reserve balance.
type PayoutRequest struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MarketerID  uuid.UUID          `gorm:"column:marketer_id;type:uuid;not null;index"`
	AmountCents int                `gorm:"column:amount_cents;not null"`
	Status      enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	DecidedAt   *time.Time         `gorm:"column:decided_at"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
