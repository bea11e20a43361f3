package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Marketer is an affiliate partner. CommissionRate is a fraction in (0, 1]
// applied to the order total at attribution time.
type Marketer struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AffiliateCode      string          `gorm:"column:affiliate_code;not null;uniqueIndex"`
	CommissionRate     decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	ClickCount         int64           `gorm:"column:click_count;not null;default:0"`
	TotalEarningsCents int64           `gorm:"column:total_earnings_cents;not null;default:0"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
