package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/printloop/printloop-backend/pkg/enums"
)

// OrderPaidEvent is emitted in the same transaction that marks an order paid.
// It carries everything the pipeline worker needs to attribute and dispatch
// without re-reading the order.
type OrderPaidEvent struct {
	OrderID      uuid.UUID      `json:"order_id"`
	CustomerID   uuid.UUID      `json:"customer_id"`
	TotalCents   int64          `json:"total_cents"`
	Currency     enums.Currency `json:"currency"`
	ReferralCode *string        `json:"referral_code,omitempty"`
	PaidAt       time.Time      `json:"paid_at"`
}

// OrderCanceledEvent records a payment failure that canceled the order.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	Reason     string    `json:"reason"`
	CanceledAt time.Time `json:"canceled_at"`
}

// FulfillmentDispatchEvent asks the worker to (re)submit an order to the
// print provider. Emitted on payment confirmation and on manual retry.
type FulfillmentDispatchEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	// Manual is true when an operator triggered the dispatch from the
	// failed-orders queue.
	Manual bool `json:"manual,omitempty"`
}

// FulfillmentAcceptedEvent records a successful provider submission.
type FulfillmentAcceptedEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	ProviderOrderRef string    `json:"provider_order_ref"`
	AttemptCount     int       `json:"attempt_count"`
	AcceptedAt       time.Time `json:"accepted_at"`
}

// FulfillmentFailedEvent records a terminal dispatch failure after retries
// were exhausted or the provider rejected the order outright.
type FulfillmentFailedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error"`
	Retryable    bool      `json:"retryable"`
}

// CommissionAccruedEvent records a commission credited to a marketer for a
// paid order.
type CommissionAccruedEvent struct {
	TransactionID    uuid.UUID `json:"transaction_id"`
	MarketerID       uuid.UUID `json:"marketer_id"`
	OrderID          uuid.UUID `json:"order_id"`
	OrderAmountCents int64     `json:"order_amount_cents"`
	CommissionCents  int64     `json:"commission_cents"`
}

// PayoutRequestedEvent records a new pending payout request.
type PayoutRequestedEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	MarketerID  uuid.UUID `json:"marketer_id"`
	AmountCents int64     `json:"amount_cents"`
}

// PayoutDecidedEvent records an operator decision on a payout request.
type PayoutDecidedEvent struct {
	PayoutID   uuid.UUID          `json:"payout_id"`
	MarketerID uuid.UUID          `json:"marketer_id"`
	Status     enums.PayoutStatus `json:"status"`
	DecidedAt  time.Time          `json:"decided_at"`
}
