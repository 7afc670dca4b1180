package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// HandlePaymentAuthorized captures the acceptance milestone once the buyer's
// authorization lands. Redelivered events resolve to the current order.
func (s *service) HandlePaymentAuthorized(ctx context.Context, intentID string) (*models.Order, error) {
	order, err := s.orders.FindByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return s.captureStep(ctx, order, enums.TriggerPaymentAuthorized, step{
		who:      systemActor,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelinePaymentAuthorized, "Payment authorized, the order is accepted", nil),
	})
}

// RecordPaymentFailure marks a declined authorization on an order that never
// got accepted. Failures reported for accepted orders are ignored.
func (s *service) RecordPaymentFailure(ctx context.Context, intentID, reason string) error {
	order, err := s.orders.FindByIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	ctx = s.orderContext(ctx, order, "payment_failed")
	if order.Status != enums.OrderStatusCreated {
		s.logg.Warn(ctx, "escrow.payment_failure.ignored")
		return nil
	}
	if order.PaymentStatus == enums.PaymentStatusFailed {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payment failed"
	}
	return s.markPayment(ctx, order, enums.PaymentStatusFailed, orders.TimelinePaymentFailed, "Payment failed: "+reason, reason)
}

// RecordAuthorizationCanceled reacts to the provider voiding an authorization.
// On an order in progress nothing can be captured any more, so the timeline
// records it for support to follow up.
func (s *service) RecordAuthorizationCanceled(ctx context.Context, intentID string) error {
	order, err := s.orders.FindByIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	ctx = s.orderContext(ctx, order, "authorization_canceled")
	if order.Status.IsTerminal() || order.PaymentStatus == enums.PaymentStatusCancelled {
		return nil
	}
	if order.Status != enums.OrderStatusCreated {
		s.logg.Warn(ctx, "escrow.authorization.canceled_mid_order")
		entry := orders.NewTimelineEntry(order.ID, orders.TimelineAuthorizationVoid,
			"The payment authorization was cancelled by the provider", nil)
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.orders.WithTx(tx).AppendTimeline(ctx, entry)
		})
	}
	return s.markPayment(ctx, order, enums.PaymentStatusCancelled, orders.TimelineAuthorizationVoid,
		"The payment authorization was cancelled", "authorization canceled")
}

func (s *service) markPayment(ctx context.Context, order *models.Order, status enums.PaymentStatus, event, message, reason string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		if err := orderRepo.UpdateFields(ctx, order.ID, map[string]any{"payment_status": status}); err != nil {
			return err
		}
		if err := orderRepo.AppendTimeline(ctx, orders.NewTimelineEntry(order.ID, event, message, nil)); err != nil {
			return err
		}
		return s.emitOrderEvent(ctx, tx, order, systemActor, enums.EventPaymentFailed, payloads.PaymentFailedEvent{
			OrderID:         order.ID,
			BuyerID:         order.BuyerID,
			PaymentIntentID: order.IntentID(),
			Reason:          reason,
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment status")
	}
	s.logg.Info(s.logg.WithField(ctx, "payment_status", status), "escrow.payment.status_recorded")
	return nil
}

// ExtendDeadline pushes the delivery date of an active order after a paid extension.
func (s *service) ExtendDeadline(ctx context.Context, input ExtendDeadlineInput) (*models.Order, error) {
	if input.ExtraDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "extra days must be positive")
	}
	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	ctx = s.orderContext(ctx, order, "extend_deadline")
	if input.IntentID != "" {
		ctx = s.logg.WithField(ctx, "intent_id", input.IntentID)
	}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot extend an order that is %s", order.Status)).
			WithDetails(map[string]any{"status": order.Status})
	}

	base := s.now()
	if order.DeliveryDate != nil && order.DeliveryDate.After(base) {
		base = *order.DeliveryDate
	}
	deadline := base.Add(time.Duration(input.ExtraDays) * 24 * time.Hour)

	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		if err := orderRepo.UpdateFields(ctx, order.ID, map[string]any{"delivery_date": deadline}); err != nil {
			return err
		}
		entry := orders.NewTimelineEntry(order.ID, orders.TimelineDeadlineExtended,
			fmt.Sprintf("Delivery deadline extended by %d days", input.ExtraDays), nil)
		if err := orderRepo.AppendTimeline(ctx, entry); err != nil {
			return err
		}
		if err := s.emitOrderEvent(ctx, tx, order, systemActor, enums.EventOrderTimelineExtended, payloads.OrderTimelineExtendedEvent{
			OrderID:         order.ID,
			BuyerID:         order.BuyerID,
			SellerID:        order.SellerID,
			ExtraDays:       input.ExtraDays,
			NewDeliveryDate: deadline,
		}); err != nil {
			return err
		}
		reloaded, err := orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extend deadline")
	}
	s.logg.Info(s.logg.WithField(ctx, "delivery_date", deadline), "escrow.deadline.extended")
	return updated, nil
}
