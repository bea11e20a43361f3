package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog row the checkout path reads for live price and
// stock. Catalog management itself lives outside this service.
type Product struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SKU            string    `gorm:"column:sku;not null;uniqueIndex"`
	Title          string    `gorm:"column:title;not null"`
	AssetURL       string    `gorm:"column:asset_url;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	StockQty       int       `gorm:"column:stock_qty;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
