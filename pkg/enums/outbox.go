package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateSellerRevenue OutboxAggregateType = "seller_revenue"
	AggregateWebhookEvent  OutboxAggregateType = "webhook_event"
	AggregateGig           OutboxAggregateType = "gig"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateSellerRevenue,
	AggregateWebhookEvent,
	AggregateGig,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated             OutboxEventType = "order_created"
	EventOrderStateChanged        OutboxEventType = "order_state_changed"
	EventMilestoneCaptured        OutboxEventType = "milestone_captured"
	EventMilestoneCaptureFailed   OutboxEventType = "milestone_capture_failed"
	EventMilestoneRefunded        OutboxEventType = "milestone_refunded"
	EventEscrowReleased           OutboxEventType = "escrow_released"
	EventOrderCancelled           OutboxEventType = "order_cancelled"
	EventOrderDisputed            OutboxEventType = "order_disputed"
	EventPaymentFailed            OutboxEventType = "payment_failed"
	EventSellerPayoutRecorded     OutboxEventType = "seller_payout_recorded"
	EventSellerPayoutFailed       OutboxEventType = "seller_payout_failed"
	EventGigPromotionPaid         OutboxEventType = "gig_promotion_paid"
	EventOrderTimelineExtended    OutboxEventType = "order_timeline_extended"
	EventWebhookDeadLettered      OutboxEventType = "webhook_dead_lettered"
	EventIntegrityViolationRaised OutboxEventType = "integrity_violation_raised"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStateChanged,
	EventMilestoneCaptured,
	EventMilestoneCaptureFailed,
	EventMilestoneRefunded,
	EventEscrowReleased,
	EventOrderCancelled,
	EventOrderDisputed,
	EventPaymentFailed,
	EventSellerPayoutRecorded,
	EventSellerPayoutFailed,
	EventGigPromotionPaid,
	EventOrderTimelineExtended,
	EventWebhookDeadLettered,
	EventIntegrityViolationRaised,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
