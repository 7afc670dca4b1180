package enums

import "fmt"

// MilestoneStatus is the state recorded on an immutable payment milestone row.
type MilestoneStatus string

const (
	MilestoneStatusCaptured       MilestoneStatus = "captured"
	MilestoneStatusHeldInEscrow   MilestoneStatus = "held_in_escrow"
	MilestoneStatusPendingRelease MilestoneStatus = "pending_release"
	MilestoneStatusFailed         MilestoneStatus = "failed"
	MilestoneStatusRefunded       MilestoneStatus = "refunded"
)

var validMilestoneStatuses = []MilestoneStatus{
	MilestoneStatusCaptured,
	MilestoneStatusHeldInEscrow,
	MilestoneStatusPendingRelease,
	MilestoneStatusFailed,
	MilestoneStatusRefunded,
}

func (s MilestoneStatus) IsValid() bool {
	for _, candidate := range validMilestoneStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseMilestoneStatus(value string) (MilestoneStatus, error) {
	for _, candidate := range validMilestoneStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid milestone status %q", value)
}
