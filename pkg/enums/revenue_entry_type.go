package enums

import "fmt"

// RevenueEntryType is the kind of movement applied to a seller revenue ledger.
type RevenueEntryType string

const (
	RevenueEntryMilestoneCaptured RevenueEntryType = "milestone_captured"
	RevenueEntryEscrowReleased    RevenueEntryType = "escrow_released"
	RevenueEntryMilestoneRefunded RevenueEntryType = "milestone_refunded"
	RevenueEntryWithdrawal        RevenueEntryType = "withdrawal"
)

var validRevenueEntryTypes = []RevenueEntryType{
	RevenueEntryMilestoneCaptured,
	RevenueEntryEscrowReleased,
	RevenueEntryMilestoneRefunded,
	RevenueEntryWithdrawal,
}

func (t RevenueEntryType) IsValid() bool {
	for _, candidate := range validRevenueEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseRevenueEntryType(value string) (RevenueEntryType, error) {
	for _, candidate := range validRevenueEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid revenue entry type %q", value)
}
