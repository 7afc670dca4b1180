package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// Release completes an order in waiting_review: the seller net of every
// captured milestone moves from pending to available in one ledger entry.
// Releasing a completed order is a no-op.
func (s *service) Release(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCompleted {
		return order, nil
	}
	if _, err := Transition(order.Status, enums.TriggerRelease, enums.ActorRoleSystem); err != nil {
		return nil, err
	}

	rows, err := s.milestones.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load milestones")
	}
	summary := milestones.Summarize(rows)
	if !summary.IsCaptured(enums.MilestoneStageReviewed) {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "review milestone must be captured before release").
			WithDetails(map[string]any{"stage": enums.MilestoneStageReviewed})
	}
	capturedTotal := summary.CapturedTotal()
	sellerNet := summary.CapturedSellerNet()

	updated, err := s.statusStep(ctx, order, enums.TriggerRelease, step{
		who: systemActor,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineFundsReleased,
			"Released "+sellerNet.StringFixed(2)+" "+string(order.Currency)+" to the seller", nil),
		apply: func(updates map[string]any, now time.Time) {
			updates["escrow_status"] = enums.EscrowStatusReleased
			updates["payment_milestone_stage"] = enums.MilestoneStageCompleted
			updates["is_completed"] = true
			updates["funds_released_at"] = now
			updates["total_released_amount"] = capturedTotal
			updates["pending_release_amount"] = decimal.Zero
		},
		effects: func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
			return s.bookRelease(ctx, tx, order, sellerNet)
		},
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncRelease()
	return updated, nil
}

func (s *service) bookRelease(ctx context.Context, tx *gorm.DB, order *models.Order, sellerNet decimal.Decimal) error {
	orderID := order.ID
	if _, err := s.revenue.WithTx(tx).Apply(ctx, revenue.Movement{
		SellerID:  order.SellerID,
		OrderID:   &orderID,
		Type:      enums.RevenueEntryEscrowReleased,
		Amount:    sellerNet,
		Currency:  order.Currency,
		Reference: revenue.ReleaseReference(order.ID),
	}); err != nil {
		return err
	}
	return s.emitOrderEvent(ctx, tx, order, systemActor, enums.EventEscrowReleased, payloads.EscrowReleasedEvent{
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		ReleasedAmount: sellerNet,
		ReleasedAt:     s.now(),
	})
}
