package enums

import "fmt"

// AffiliateTransactionStatus tracks whether a commission is still inside the
// dispute window or has been confirmed for payout.
type AffiliateTransactionStatus string

const (
	AffiliateTransactionStatusPending   AffiliateTransactionStatus = "pending"
	AffiliateTransactionStatusCompleted AffiliateTransactionStatus = "completed"
)

var validAffiliateTransactionStatuses = []AffiliateTransactionStatus{
	AffiliateTransactionStatusPending,
	AffiliateTransactionStatusCompleted,
}

// String implements fmt.Stringer.
func (a AffiliateTransactionStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AffiliateTransactionStatus.
func (a AffiliateTransactionStatus) IsValid() bool {
	for _, candidate := range validAffiliateTransactionStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAffiliateTransactionStatus converts raw input into an AffiliateTransactionStatus.
func ParseAffiliateTransactionStatus(value string) (AffiliateTransactionStatus, error) {
	for _, candidate := range validAffiliateTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid affiliate transaction status %q", value)
}
