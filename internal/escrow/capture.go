package escrow

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/pricing"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/metrics"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// captureStep runs a capturing trigger. A stage that is already captured
// makes the call a no-op, unless the trigger is still legal from the current
// status, which is the revision loop re-delivering: then only the status moves.
func (s *service) captureStep(ctx context.Context, order *models.Order, trigger enums.OrderTrigger, st step) (*models.Order, error) {
	stage := CaptureStageFor(trigger)
	ctx = s.orderContext(ctx, order, trigger)

	decision, ruleErr := Transition(order.Status, trigger, st.who.role)
	if ruleErr != nil && !pkgerrors.IsCode(ruleErr, pkgerrors.CodePrecondition) {
		return nil, ruleErr
	}

	existing, err := s.milestones.FindCaptured(ctx, order.ID, stage)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check captured milestone")
	}
	if existing != nil {
		if ruleErr != nil {
			s.metrics.ObserveCapture(string(stage), metrics.OutcomeDuplicate)
			s.logg.Info(ctx, "escrow.capture.already_captured")
			return order, nil
		}
		st.decision = decision
		return s.commit(ctx, order, st)
	}
	if ruleErr != nil {
		return nil, ruleErr
	}
	if err := s.checkCapturePreconditions(ctx, order, stage); err != nil {
		return nil, err
	}

	attempt := milestones.Attempt{
		Order:     order,
		Stage:     stage,
		Amount:    order.StageAmount(stage),
		SellerNet: pricing.SellerShares(order.TotalAmount, order.PlatformFeeRate).For(stage),
		Actor:     st.who.role,
		Trigger:   trigger,
		At:        s.now(),
	}
	result, err := s.gateway.CapturePartial(ctx, gateway.CaptureRequest{
		IntentID:       order.IntentID(),
		Amount:         attempt.Amount,
		Currency:       order.Currency,
		Final:          stage.IsFinal(),
		IdempotencyKey: milestones.CaptureKey(order.ID, stage),
	})
	if err != nil {
		return nil, s.recordCaptureFailure(ctx, order, st.who, attempt, err)
	}
	if result.AlreadyCaptured {
		s.logg.Warn(ctx, "escrow.capture.provider_replayed")
	}

	st.decision = decision
	st.milestone = milestones.NewCaptured(attempt)
	updated, err := s.commit(ctx, order, st)
	if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateEvent) {
		// a concurrent attempt recorded the stage first
		s.metrics.ObserveCapture(string(stage), metrics.OutcomeDuplicate)
		s.logg.Info(ctx, "escrow.capture.lost_race")
		return s.orders.FindByID(ctx, order.ID)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCapture(string(stage), metrics.OutcomeSuccess)
	s.logg.Info(s.logg.WithField(ctx, "stage", stage), "escrow.capture.succeeded")
	return updated, nil
}

func (s *service) checkCapturePreconditions(ctx context.Context, order *models.Order, stage enums.MilestoneStage) error {
	if order.IntentID() == "" {
		return pkgerrors.New(pkgerrors.CodePrecondition, "order has no payment intent").
			WithDetails(map[string]any{"stage": stage})
	}
	if !order.StageAmount(stage).IsPositive() {
		return pkgerrors.New(pkgerrors.CodePrecondition, "order has no amount for stage").
			WithDetails(map[string]any{"stage": stage})
	}
	prev := stage.Previous()
	if prev == "" {
		return nil
	}
	captured, err := s.milestones.FindCaptured(ctx, order.ID, prev)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check previous milestone")
	}
	if captured == nil {
		return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("%s milestone must be captured before %s", prev, stage)).
			WithDetails(map[string]any{"stage": stage, "missing": prev})
	}
	return nil
}

// recordCaptureFailure keeps the order in place, writes the failed milestone
// and returns the CAPTURE_FAILED error for the caller.
func (s *service) recordCaptureFailure(ctx context.Context, order *models.Order, who actor, attempt milestones.Attempt, cause error) error {
	reason := gatewayReason(cause)
	s.metrics.ObserveCapture(string(attempt.Stage), metrics.OutcomeFailure)
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{"stage": attempt.Stage, "reason": reason}), "escrow.capture.failed", cause)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.milestones.WithTx(tx).Insert(ctx, milestones.NewFailed(attempt, reason)); err != nil {
			return err
		}
		orderRepo := s.orders.WithTx(tx)
		if err := orderRepo.UpdateFields(ctx, order.ID, map[string]any{"payment_status": enums.PaymentStatusCaptureFailed}); err != nil {
			return err
		}
		entry := orders.NewTimelineEntry(order.ID, orders.TimelineCaptureFailed,
			fmt.Sprintf("Payment capture for the %s milestone failed: %s", attempt.Stage, reason), nil)
		if err := orderRepo.AppendTimeline(ctx, entry); err != nil {
			return err
		}
		return s.emitOrderEvent(ctx, tx, order, who, enums.EventMilestoneCaptureFailed, payloads.MilestoneCaptureFailedEvent{
			OrderID:  order.ID,
			BuyerID:  order.BuyerID,
			SellerID: order.SellerID,
			Stage:    attempt.Stage,
			Amount:   attempt.Amount,
			Reason:   reason,
		})
	})
	if err != nil {
		s.logg.Error(ctx, "escrow.capture.record_failure_failed", err)
	}

	if typed := pkgerrors.As(cause); typed != nil && typed.Code() != pkgerrors.CodeCaptureFailed {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeCaptureFailed, cause, fmt.Sprintf("capture of the %s milestone failed", attempt.Stage)).
		WithDetails(map[string]any{"stage": attempt.Stage, "reason": reason})
}

// gatewayReason extracts the provider reason attached by the gateway.
func gatewayReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if reason, ok := details["reason"].(string); ok && reason != "" {
				return reason
			}
		}
		return typed.Message()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
