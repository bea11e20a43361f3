package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateFulfillment OutboxAggregateType = "fulfillment"
	AggregatePayout      OutboxAggregateType = "payout"
	AggregateAffiliate   OutboxAggregateType = "affiliate"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateFulfillment,
	AggregatePayout,
	AggregateAffiliate,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPaid           OutboxEventType = "order_paid"
	EventOrderCanceled       OutboxEventType = "order_canceled"
	EventFulfillmentDispatch OutboxEventType = "fulfillment_dispatch"
	EventFulfillmentFailed   OutboxEventType = "fulfillment_failed"
	EventFulfillmentAccepted OutboxEventType = "fulfillment_accepted"
	EventCommissionAccrued   OutboxEventType = "commission_accrued"
	EventPayoutRequested     OutboxEventType = "payout_requested"
	EventPayoutDecided       OutboxEventType = "payout_decided"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderCanceled,
	EventFulfillmentDispatch,
	EventFulfillmentFailed,
	EventFulfillmentAccepted,
	EventCommissionAccrued,
	EventPayoutRequested,
	EventPayoutDecided,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
