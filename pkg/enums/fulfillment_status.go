package enums

import "fmt"

// FulfillmentStatus tracks the lifecycle of a print provider submission.
type FulfillmentStatus string

const (
	FulfillmentStatusNotStarted FulfillmentStatus = "not_started"
	FulfillmentStatusSubmitted  FulfillmentStatus = "submitted"
	FulfillmentStatusAccepted   FulfillmentStatus = "accepted"
	FulfillmentStatusFailed     FulfillmentStatus = "failed"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusNotStarted,
	FulfillmentStatusSubmitted,
	FulfillmentStatusAccepted,
	FulfillmentStatusFailed,
}

// String implements fmt.Stringer.
func (f FulfillmentStatus) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentStatus.
func (f FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
