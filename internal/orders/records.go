package orders

import (
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
)

// Timeline event names shown on the order page.
const (
	TimelineOrderPlaced        = "order_placed"
	TimelinePaymentAuthorized  = "payment_authorized"
	TimelineRequirements       = "requirements_submitted"
	TimelineWorkStarted        = "work_started"
	TimelineHalfway            = "halfway_done"
	TimelineDelivered          = "delivered"
	TimelineRevisionRequested  = "revision_requested"
	TimelineApproved           = "approved"
	TimelineFundsReleased      = "funds_released"
	TimelineCancelled          = "cancelled"
	TimelineDisputed           = "disputed"
	TimelineCaptureFailed      = "capture_failed"
	TimelinePaymentFailed      = "payment_failed"
	TimelineDeadlineExtended   = "deadline_extended"
	TimelineMilestoneCaptured  = "milestone_captured"
	TimelineMilestoneRefunded  = "milestone_refunded"
	TimelineAuthorizationVoid  = "authorization_cancelled"
	TimelineRefundConfirmation = "refund_confirmed"
)

func NewHistoryEntry(orderID uuid.UUID, from, to enums.OrderStatus, trigger enums.OrderTrigger, role enums.ActorRole, actorID *uuid.UUID) *models.StatusHistoryEntry {
	return &models.StatusHistoryEntry{
		ID:         uuid.New(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Trigger:    trigger,
		ActorRole:  role,
		ActorID:    actorID,
	}
}

func NewTimelineEntry(orderID uuid.UUID, event, message string, attachments []string) *models.TimelineEntry {
	entry := &models.TimelineEntry{
		ID:      uuid.New(),
		OrderID: orderID,
		Event:   event,
		Message: message,
	}
	if len(attachments) > 0 {
		entry.Attachments = pq.StringArray(attachments)
	}
	return entry
}
