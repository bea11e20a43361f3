package enums

import "fmt"

// PayoutStatus tracks the lifecycle of a marketer payout request.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusApproved PayoutStatus = "approved"
	PayoutStatusPaid     PayoutStatus = "paid"
	PayoutStatusRejected PayoutStatus = "rejected"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusApproved,
	PayoutStatusPaid,
	PayoutStatusRejected,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ReservesBalance reports whether a payout in this status still counts
// against the marketer's available balance.
func (p PayoutStatus) ReservesBalance() bool {
	switch p {
	case PayoutStatusPending, PayoutStatusApproved, PayoutStatusPaid:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the admin decision flow allows the move.
func (p PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch p {
	case PayoutStatusPending:
		return next == PayoutStatusApproved || next == PayoutStatusRejected
	case PayoutStatusApproved:
		return next == PayoutStatusPaid
	default:
		return false
	}
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}
