package milestones

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
)

// CaptureKey is the provider idempotency key of a stage capture.
func CaptureKey(orderID uuid.UUID, stage enums.MilestoneStage) string {
	return fmt.Sprintf("capture:%s:%s", orderID, stage)
}

// RefundKey is the provider idempotency key of a stage refund.
func RefundKey(orderID uuid.UUID, stage enums.MilestoneStage) string {
	return fmt.Sprintf("refund:%s:%s", orderID, stage)
}

// Attempt describes one capture of an order stage.
type Attempt struct {
	Order     *models.Order
	Stage     enums.MilestoneStage
	Amount    decimal.Decimal
	SellerNet decimal.Decimal
	Actor     enums.ActorRole
	Trigger   enums.OrderTrigger
	At        time.Time
}

func (a Attempt) base(status enums.MilestoneStatus) *models.PaymentMilestone {
	return &models.PaymentMilestone{
		ID:                    uuid.New(),
		OrderID:               a.Order.ID,
		Stage:                 a.Stage,
		PercentageOfTotal:     a.Stage.Percentage(),
		Amount:                a.Amount,
		SellerNetAmount:       a.SellerNet,
		Currency:              a.Order.Currency,
		StripePaymentIntentID: a.Order.IntentID(),
		IdempotencyKey:        CaptureKey(a.Order.ID, a.Stage),
		PaymentStatus:         status,
		TriggeredByRole:       a.Actor,
		TriggeredByAction:     a.Trigger,
	}
}

func NewCaptured(a Attempt) *models.PaymentMilestone {
	m := a.base(enums.MilestoneStatusCaptured)
	at := a.At
	m.CapturedAt = &at
	return m
}

func NewFailed(a Attempt, reason string) *models.PaymentMilestone {
	m := a.base(enums.MilestoneStatusFailed)
	at := a.At
	m.FailedAt = &at
	m.FailureReason = &reason
	return m
}

// NewRefunded builds the reversal row of a captured milestone.
func NewRefunded(captured models.PaymentMilestone, actor enums.ActorRole, providerRef string, at time.Time) *models.PaymentMilestone {
	m := &models.PaymentMilestone{
		ID:                    uuid.New(),
		OrderID:               captured.OrderID,
		Stage:                 captured.Stage,
		PercentageOfTotal:     captured.PercentageOfTotal,
		Amount:                captured.Amount,
		SellerNetAmount:       captured.SellerNetAmount,
		Currency:              captured.Currency,
		StripePaymentIntentID: captured.StripePaymentIntentID,
		IdempotencyKey:        RefundKey(captured.OrderID, captured.Stage),
		PaymentStatus:         enums.MilestoneStatusRefunded,
		RefundedAt:            &at,
		TriggeredByRole:       actor,
		TriggeredByAction:     enums.TriggerCancel,
	}
	if providerRef != "" {
		m.ProviderReference = &providerRef
	}
	return m
}

// Summary indexes an order's milestone rows by stage.
type Summary struct {
	Captured map[enums.MilestoneStage]models.PaymentMilestone
	Refunded map[enums.MilestoneStage]models.PaymentMilestone
	Failures int
}

func Summarize(rows []models.PaymentMilestone) Summary {
	s := Summary{
		Captured: map[enums.MilestoneStage]models.PaymentMilestone{},
		Refunded: map[enums.MilestoneStage]models.PaymentMilestone{},
	}
	for _, row := range rows {
		switch row.PaymentStatus {
		case enums.MilestoneStatusCaptured:
			s.Captured[row.Stage] = row
		case enums.MilestoneStatusRefunded:
			s.Refunded[row.Stage] = row
		case enums.MilestoneStatusFailed:
			s.Failures++
		}
	}
	return s
}

func (s Summary) IsCaptured(stage enums.MilestoneStage) bool {
	_, ok := s.Captured[stage]
	return ok
}

func (s Summary) CapturedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, row := range s.Captured {
		total = total.Add(row.Amount)
	}
	return total
}

func (s Summary) CapturedSellerNet() decimal.Decimal {
	total := decimal.Zero
	for _, row := range s.Captured {
		total = total.Add(row.SellerNetAmount)
	}
	return total
}

func (s Summary) RefundedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, row := range s.Refunded {
		total = total.Add(row.Amount)
	}
	return total
}

// OutstandingRefunds lists captured stages without a reversal row, in capture order.
func (s Summary) OutstandingRefunds() []models.PaymentMilestone {
	var out []models.PaymentMilestone
	for _, stage := range enums.CaptureStages {
		captured, ok := s.Captured[stage]
		if !ok {
			continue
		}
		if _, refunded := s.Refunded[stage]; refunded {
			continue
		}
		out = append(out, captured)
	}
	return out
}

// LatestCaptured returns the furthest captured stage, or order_placed when none.
func (s Summary) LatestCaptured() enums.MilestoneStage {
	latest := enums.MilestoneStageOrderPlaced
	for _, stage := range enums.CaptureStages {
		if s.IsCaptured(stage) {
			latest = stage
		}
	}
	return latest
}
