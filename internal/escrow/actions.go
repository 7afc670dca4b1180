package escrow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

func (s *service) SubmitRequirements(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID, requirements string) (*models.Order, error) {
	requirements = strings.TrimSpace(requirements)
	if requirements == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requirements are required")
	}
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	return s.statusStep(ctx, order, enums.TriggerSubmitRequirements, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineRequirements, "Buyer submitted the order requirements", nil),
		apply: func(updates map[string]any, _ time.Time) {
			updates["requirements"] = requirements
		},
	})
}

func (s *service) StartWork(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID) (*models.Order, error) {
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	return s.captureStep(ctx, order, enums.TriggerStartWork, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineWorkStarted, "Seller started working on the order", nil),
	})
}

func (s *service) MarkHalfway(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID) (*models.Order, error) {
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	return s.statusStep(ctx, order, enums.TriggerMarkHalfway, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineHalfway, "Seller marked the order halfway done", nil),
	})
}

func (s *service) Deliver(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID, input DeliverInput) (*models.Order, error) {
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = "Seller delivered the order"
	}
	return s.captureStep(ctx, order, enums.TriggerDeliver, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineDelivered, message, input.Attachments),
		apply: func(updates map[string]any, now time.Time) {
			updates["delivered_at"] = now
		},
	})
}

func (s *service) RequestRevision(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID, message string) (*models.Order, error) {
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "Buyer requested a revision"
	}
	return s.statusStep(ctx, order, enums.TriggerRequestRevision, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineRevisionRequested, message, nil),
	})
}

// Approve captures the review milestone and releases the escrow. An order left
// in waiting_review by a failed release is released again.
func (s *service) Approve(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID) (*models.Order, error) {
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusWaitingReview || order.Status == enums.OrderStatusCompleted {
		if who.role != enums.ActorRoleBuyer {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller is not allowed to approve")
		}
		return s.Release(ctx, order.ID)
	}

	approved, err := s.captureStep(ctx, order, enums.TriggerApprove, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineApproved, "Buyer approved the delivery", nil),
	})
	if err != nil {
		return nil, err
	}
	return s.Release(ctx, approved.ID)
}

func (s *service) OpenDispute(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, who, err := s.loadForActor(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	message := "Order disputed by the " + string(who.role)
	if reason != "" {
		message += ": " + reason
	}
	from := order.Status
	return s.statusStep(ctx, order, enums.TriggerDispute, step{
		who:      who,
		timeline: orders.NewTimelineEntry(order.ID, orders.TimelineDisputed, message, nil),
		effects: func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
			return s.emitOrderEvent(ctx, tx, order, who, enums.EventOrderDisputed, payloads.OrderDisputedEvent{
				OrderID:  order.ID,
				BuyerID:  order.BuyerID,
				SellerID: order.SellerID,
				OpenedBy: who.role,
				From:     from,
				Reason:   reason,
			})
		},
	})
}
