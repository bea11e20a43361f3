package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
)

// OrderFilters describe the inputs supported by the admin orders list.
type OrderFilters struct {
	Status     *enums.OrderStatus
	CustomerID *uuid.UUID
	DateFrom   *time.Time
	DateTo     *time.Time
}

// OrderSummary exposes the aggregated fields returned in the orders list.
type OrderSummary struct {
	ID         uuid.UUID         `json:"id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	Status     enums.OrderStatus `json:"status"`
	TotalCents int               `json:"total_cents"`
	Currency   enums.Currency    `json:"currency"`
	LineCount  int               `json:"line_count"`
	CreatedAt  time.Time         `json:"created_at"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderLineDetail is one frozen line returned with an order.
type OrderLineDetail struct {
	ProductID      uuid.UUID `json:"product_id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	UnitPriceCents int       `json:"unit_price_cents"`
	Qty            int       `json:"qty"`
	TotalCents     int       `json:"total_cents"`
}

// PaymentAttemptDetail summarizes one gateway attempt on the order.
type PaymentAttemptDetail struct {
	GatewayRef    string                     `json:"gateway_ref"`
	Status        enums.PaymentAttemptStatus `json:"status"`
	AmountCents   int                        `json:"amount_cents"`
	FailureReason *string                    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// OrderDetail is the full order view returned by GET /orders/{id}.
type OrderDetail struct {
	ID              uuid.UUID              `json:"id"`
	CustomerID      uuid.UUID              `json:"customer_id"`
	Status          enums.OrderStatus      `json:"status"`
	Currency        enums.Currency         `json:"currency"`
	SubtotalCents   int                    `json:"subtotal_cents"`
	TotalCents      int                    `json:"total_cents"`
	ReferralCode    *string                `json:"referral_code,omitempty"`
	ShippingMethod  enums.ShippingMethod   `json:"shipping_method"`
	Lines           []OrderLineDetail      `json:"lines"`
	PaymentAttempts []PaymentAttemptDetail `json:"payment_attempts"`
	PaidAt          *time.Time             `json:"paid_at,omitempty"`
	FulfilledAt     *time.Time             `json:"fulfilled_at,omitempty"`
	CanceledAt      *time.Time             `json:"canceled_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

func buildOrderDetail(order *models.Order) *OrderDetail {
	lines := make([]OrderLineDetail, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLineDetail{
			ProductID:      line.ProductID,
			SKU:            line.SKU,
			Name:           line.Name,
			UnitPriceCents: line.UnitPriceCents,
			Qty:            line.Qty,
			TotalCents:     line.TotalCents,
		})
	}

	attempts := make([]PaymentAttemptDetail, 0, len(order.PaymentAttempts))
	for _, attempt := range order.PaymentAttempts {
		attempts = append(attempts, PaymentAttemptDetail{
			GatewayRef:    attempt.GatewayRef,
			Status:        attempt.Status,
			AmountCents:   attempt.AmountCents,
			FailureReason: attempt.FailureReason,
			CreatedAt:     attempt.CreatedAt,
		})
	}

	return &OrderDetail{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		Status:          order.Status,
		Currency:        order.Currency,
		SubtotalCents:   order.SubtotalCents,
		TotalCents:      order.TotalCents,
		ReferralCode:    order.ReferralCode,
		ShippingMethod:  order.ShippingMethod,
		Lines:           lines,
		PaymentAttempts: attempts,
		PaidAt:          order.PaidAt,
		FulfilledAt:     order.FulfilledAt,
		CanceledAt:      order.CanceledAt,
		CreatedAt:       order.CreatedAt,
	}
}
