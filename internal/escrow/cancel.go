package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/metrics"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// CancelKey is the provider idempotency key for voiding an order's authorization.
func CancelKey(orderID uuid.UUID) string {
	return fmt.Sprintf("cancel:%s", orderID)
}

// Cancel runs the compensating transaction: every captured milestone is
// refunded and reversed on the seller ledger, the remaining authorization is
// voided, and only then the order moves to cancelled.
func (s *service) Cancel(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.orderContext(ctx, order, enums.TriggerCancel)
	if _, err := Transition(order.Status, enums.TriggerCancel, who.role); err != nil {
		return nil, err
	}
	now := s.now()
	if order.DeliveryDate == nil || now.Before(*order.DeliveryDate) {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "order can be cancelled only after the delivery deadline").
			WithDetails(map[string]any{"delivery_date": order.DeliveryDate})
	}

	summary, err := s.cancellableSummary(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refundAll(ctx, order, who, summary.OutstandingRefunds()); err != nil {
		return nil, err
	}
	if err := s.gateway.CancelAuthorization(ctx, order.IntentID(), CancelKey(order.ID)); err != nil {
		return nil, err
	}

	// A capture can commit while the refunds run. The order is read before
	// its milestones, so such a capture is either listed here or has moved
	// the version the final compare-and-set expects.
	current, summary, err := s.reloadForCancel(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for round := 1; len(summary.OutstandingRefunds()) > 0; round++ {
		if round > maxCancelRefundRounds {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is still capturing; retry the cancellation").
				WithDetails(map[string]any{"outstanding": len(summary.OutstandingRefunds())})
		}
		s.logg.Warn(s.logg.WithField(ctx, "outstanding", len(summary.OutstandingRefunds())), "escrow.cancel.capture_during_refund")
		if err := s.refundAll(ctx, current, who, summary.OutstandingRefunds()); err != nil {
			return nil, err
		}
		if current, summary, err = s.reloadForCancel(ctx, order.ID); err != nil {
			return nil, err
		}
	}

	refunded := summary.CapturedTotal()
	paymentStatus := enums.PaymentStatusCancelled
	escrowStatus := current.EscrowStatus
	if refunded.IsPositive() {
		paymentStatus = enums.PaymentStatusRefunded
		escrowStatus = enums.EscrowStatusRefunded
	}
	message := "Buyer cancelled the order"
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}

	return s.statusStep(ctx, current, enums.TriggerCancel, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineCancelled, message, nil),
		apply: func(updates map[string]any, now time.Time) {
			updates["payment_status"] = paymentStatus
			updates["escrow_status"] = escrowStatus
			updates["pending_release_amount"] = decimal.Zero
			updates["cancelled_at"] = now
		},
		effects: func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
			return s.emitOrderEvent(ctx, tx, order, who, enums.EventOrderCancelled, payloads.OrderCancelledEvent{
				OrderID:        order.ID,
				BuyerID:        order.BuyerID,
				SellerID:       order.SellerID,
				RefundedAmount: refunded,
				CancelledAt:    now,
			})
		},
	})
}

// maxCancelRefundRounds bounds how often Cancel chases captures that commit
// while it is refunding.
const maxCancelRefundRounds = 3

// cancellableSummary loads the order's milestones and rejects orders whose
// delivery has been paid for.
func (s *service) cancellableSummary(ctx context.Context, orderID uuid.UUID) (milestones.Summary, error) {
	rows, err := s.milestones.ListByOrder(ctx, orderID)
	if err != nil {
		return milestones.Summary{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load milestones")
	}
	summary := milestones.Summarize(rows)
	if summary.IsCaptured(enums.MilestoneStageDelivered) {
		return milestones.Summary{}, pkgerrors.New(pkgerrors.CodePrecondition, "delivered orders cannot be cancelled").
			WithDetails(map[string]any{"stage": enums.MilestoneStageDelivered})
	}
	return summary, nil
}

func (s *service) reloadForCancel(ctx context.Context, orderID uuid.UUID) (*models.Order, milestones.Summary, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, milestones.Summary{}, err
	}
	summary, err := s.cancellableSummary(ctx, orderID)
	if err != nil {
		return nil, milestones.Summary{}, err
	}
	return order, summary, nil
}

// refundAll attempts every refund even when one fails. Refunds that went
// through stay recorded, so a retry continues where this one stopped.
func (s *service) refundAll(ctx context.Context, order *models.Order, who actor, outstanding []models.PaymentMilestone) error {
	var refundErr error
	for _, captured := range outstanding {
		refundErr = multierr.Append(refundErr, s.refundMilestone(ctx, order, who, captured))
	}
	if refundErr == nil {
		return nil
	}
	s.logg.Error(ctx, "escrow.cancel.refunds_incomplete", refundErr)
	return pkgerrors.Wrap(pkgerrors.CodeRefundFailed, refundErr, "order refunds incomplete").
		WithDetails(map[string]any{"failed": len(multierr.Errors(refundErr))})
}

// refundMilestone refunds one captured stage and books the reversal. A stage
// already reversed by a concurrent attempt counts as done.
func (s *service) refundMilestone(ctx context.Context, order *models.Order, who actor, captured models.PaymentMilestone) error {
	stage := captured.Stage
	ctx = s.logg.WithField(ctx, "stage", stage)

	result, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		IntentID:       captured.StripePaymentIntentID,
		Amount:         captured.Amount,
		Currency:       order.Currency,
		IdempotencyKey: milestones.RefundKey(order.ID, stage),
	})
	if err != nil {
		s.metrics.ObserveRefund(string(stage), metrics.OutcomeFailure)
		return err
	}

	row := milestones.NewRefunded(captured, who.role, result.RefundID, s.now())
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.milestones.WithTx(tx).Insert(ctx, row); err != nil {
			return err
		}
		orderID := order.ID
		if _, err := s.revenue.WithTx(tx).Apply(ctx, revenue.Movement{
			SellerID:  order.SellerID,
			OrderID:   &orderID,
			Type:      enums.RevenueEntryMilestoneRefunded,
			Amount:    captured.SellerNetAmount,
			Currency:  order.Currency,
			Reference: revenue.RefundReference(order.ID, stage),
		}); err != nil {
			return err
		}
		orderRepo := s.orders.WithTx(tx)
		if err := orderRepo.UpdateFields(ctx, order.ID, map[string]any{
			"pending_release_amount": gorm.Expr("pending_release_amount - ?", captured.Amount),
		}); err != nil {
			return err
		}
		entry := orders.NewTimelineEntry(order.ID, orders.TimelineMilestoneRefunded,
			"Refunded "+captured.Amount.StringFixed(2)+" "+string(order.Currency)+" for the "+string(stage)+" milestone", nil)
		if err := orderRepo.AppendTimeline(ctx, entry); err != nil {
			return err
		}
		return s.emitOrderEvent(ctx, tx, order, who, enums.EventMilestoneRefunded, payloads.MilestoneRefundedEvent{
			OrderID:  order.ID,
			BuyerID:  order.BuyerID,
			SellerID: order.SellerID,
			Stage:    stage,
			Amount:   captured.Amount,
		})
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateEvent) {
		s.metrics.ObserveRefund(string(stage), metrics.OutcomeDuplicate)
		return nil
	}
	if err != nil {
		s.metrics.ObserveRefund(string(stage), metrics.OutcomeFailure)
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund")
	}
	s.metrics.ObserveRefund(string(stage), metrics.OutcomeSuccess)
	s.logg.Info(ctx, "escrow.refund.succeeded")
	return nil
}
