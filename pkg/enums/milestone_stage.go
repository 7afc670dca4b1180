package enums

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MilestoneStage is the escrow tranche an order has reached.
type MilestoneStage string

const (
	MilestoneStageOrderPlaced MilestoneStage = "order_placed"
	MilestoneStageAccepted    MilestoneStage = "accepted"
	MilestoneStageInEscrow    MilestoneStage = "in_escrow"
	MilestoneStageDelivered   MilestoneStage = "delivered"
	MilestoneStageReviewed    MilestoneStage = "reviewed"
	MilestoneStageCompleted   MilestoneStage = "completed"
)

var validMilestoneStages = []MilestoneStage{
	MilestoneStageOrderPlaced,
	MilestoneStageAccepted,
	MilestoneStageInEscrow,
	MilestoneStageDelivered,
	MilestoneStageReviewed,
	MilestoneStageCompleted,
}

// CaptureStages lists the stages that capture funds, in capture order.
var CaptureStages = []MilestoneStage{
	MilestoneStageAccepted,
	MilestoneStageInEscrow,
	MilestoneStageDelivered,
	MilestoneStageReviewed,
}

var stagePercentages = map[MilestoneStage]int64{
	MilestoneStageAccepted:  10,
	MilestoneStageInEscrow:  50,
	MilestoneStageDelivered: 20,
	MilestoneStageReviewed:  20,
}

func (s MilestoneStage) String() string {
	return string(s)
}

func (s MilestoneStage) IsValid() bool {
	for _, candidate := range validMilestoneStages {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsCaptureStage reports whether the stage corresponds to a partial capture.
func (s MilestoneStage) IsCaptureStage() bool {
	_, ok := stagePercentages[s]
	return ok
}

// Percentage returns the share of the order total captured at this stage.
func (s MilestoneStage) Percentage() decimal.Decimal {
	return decimal.NewFromInt(stagePercentages[s])
}

// Previous returns the capture stage that must precede s, or "" for the first.
func (s MilestoneStage) Previous() MilestoneStage {
	for i, candidate := range CaptureStages {
		if candidate == s && i > 0 {
			return CaptureStages[i-1]
		}
	}
	return ""
}

// IsFinal reports whether s is the last capture against the authorization.
func (s MilestoneStage) IsFinal() bool {
	return s == MilestoneStageReviewed
}

func ParseMilestoneStage(value string) (MilestoneStage, error) {
	for _, candidate := range validMilestoneStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid milestone stage %q", value)
}
