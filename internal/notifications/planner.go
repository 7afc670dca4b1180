package notifications

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// Message is one email plus in-app notification addressed to a user.
type Message struct {
	UserID   uuid.UUID
	Template string
	Type     enums.NotificationType
	Title    string
	Body     string
	Link     string
	Data     map[string]any
	// GigID asks the consumer to resolve the gig title into Data["gig_title"].
	GigID uuid.UUID
}

// Plan maps a domain event onto the messages it produces. Event types
// without recipients return no messages.
func Plan(eventType enums.OutboxEventType, data []byte) ([]Message, error) {
	switch eventType {
	case enums.EventOrderCreated:
		var p payloads.OrderCreatedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		link := orderLink(p.OrderID)
		amount := p.TotalAmount.StringFixed(2)
		return []Message{
			{UserID: p.SellerID, Template: "order_created_seller", Type: enums.NotificationTypeOrderUpdate,
				Title: "New order received", Body: "A buyer placed a new order on your gig.", Link: link,
				Data: map[string]any{"order_id": p.OrderID, "total": amount}, GigID: p.GigID},
			{UserID: p.BuyerID, Template: "order_created_buyer", Type: enums.NotificationTypeOrderUpdate,
				Title: "Order placed", Body: fmt.Sprintf("Your order of %s %s was placed.", amount, p.Currency), Link: link,
				Data: map[string]any{"order_id": p.OrderID, "total": amount}, GigID: p.GigID},
		}, nil

	case enums.EventMilestoneCaptured:
		var p payloads.MilestoneCapturedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		link := orderLink(p.OrderID)
		d := map[string]any{"order_id": p.OrderID, "stage": p.Stage, "amount": p.Amount.StringFixed(2)}
		return []Message{
			{UserID: p.BuyerID, Template: "milestone_captured_buyer", Type: enums.NotificationTypePaymentUpdate,
				Title: "Payment captured", Body: fmt.Sprintf("%s %s was captured for the %s milestone.",
					p.Amount.StringFixed(2), p.Currency, p.Stage), Link: link, Data: d},
			{UserID: p.SellerID, Template: "milestone_captured_seller", Type: enums.NotificationTypePaymentUpdate,
				Title: "Funds held in escrow", Body: fmt.Sprintf("%s %s is now pending release.",
					p.SellerNetAmount.StringFixed(2), p.Currency), Link: link, Data: d},
		}, nil

	case enums.EventMilestoneCaptureFailed:
		var p payloads.MilestoneCaptureFailedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []Message{
			{UserID: p.BuyerID, Template: "capture_failed", Type: enums.NotificationTypePaymentUpdate,
				Title: "Payment could not be captured", Body: "Please update your payment method to continue the order.",
				Link: orderLink(p.OrderID), Data: map[string]any{"order_id": p.OrderID, "stage": p.Stage, "reason": p.Reason}},
		}, nil

	case enums.EventOrderStateChanged:
		var p payloads.OrderStateChangedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return planStateChange(p), nil

	case enums.EventEscrowReleased:
		var p payloads.EscrowReleasedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []Message{
			{UserID: p.SellerID, Template: "escrow_released", Type: enums.NotificationTypePayout,
				Title: "Funds released", Body: "The buyer approved your delivery and your earnings are available.",
				Link: orderLink(p.OrderID), Data: map[string]any{"order_id": p.OrderID, "amount": p.ReleasedAmount.StringFixed(2)}},
		}, nil

	case enums.EventOrderCancelled:
		var p payloads.OrderCancelledEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		link := orderLink(p.OrderID)
		d := map[string]any{"order_id": p.OrderID, "refunded": p.RefundedAmount.StringFixed(2)}
		return []Message{
			{UserID: p.BuyerID, Template: "order_cancelled_buyer", Type: enums.NotificationTypeOrderUpdate,
				Title: "Order cancelled", Body: fmt.Sprintf("Your order was cancelled and %s was refunded.",
					p.RefundedAmount.StringFixed(2)), Link: link, Data: d},
			{UserID: p.SellerID, Template: "order_cancelled_seller", Type: enums.NotificationTypeOrderUpdate,
				Title: "Order cancelled", Body: "The buyer cancelled the order after the delivery deadline passed.",
				Link: link, Data: d},
		}, nil

	case enums.EventOrderDisputed:
		var p payloads.OrderDisputedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		other := p.SellerID
		if p.OpenedBy == enums.ActorRoleSeller {
			other = p.BuyerID
		}
		return []Message{
			{UserID: other, Template: "order_disputed", Type: enums.NotificationTypeOrderUpdate,
				Title: "Dispute opened", Body: fmt.Sprintf("The %s opened a dispute on this order.", p.OpenedBy),
				Link: orderLink(p.OrderID), Data: map[string]any{"order_id": p.OrderID, "reason": p.Reason}},
		}, nil

	case enums.EventPaymentFailed:
		var p payloads.PaymentFailedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []Message{
			{UserID: p.BuyerID, Template: "payment_failed", Type: enums.NotificationTypePaymentUpdate,
				Title: "Payment failed", Body: p.Reason, Link: orderLink(p.OrderID),
				Data: map[string]any{"order_id": p.OrderID, "reason": p.Reason}},
		}, nil

	case enums.EventOrderTimelineExtended:
		var p payloads.OrderTimelineExtendedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []Message{
			{UserID: p.SellerID, Template: "deadline_extended", Type: enums.NotificationTypeOrderUpdate,
				Title: "Delivery deadline extended", Body: fmt.Sprintf("The buyer added %d days to the delivery deadline.", p.ExtraDays),
				Link: orderLink(p.OrderID), Data: map[string]any{"order_id": p.OrderID, "delivery_date": p.NewDeliveryDate}},
		}, nil

	case enums.EventSellerPayoutRecorded, enums.EventSellerPayoutFailed:
		var p payloads.SellerPayoutEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		msg := Message{UserID: p.SellerID, Template: "payout_paid", Type: enums.NotificationTypePayout,
			Title: "Payout sent", Body: fmt.Sprintf("%s is on its way to your bank account.", p.Amount.StringFixed(2)),
			Link: "/revenue", Data: map[string]any{"payout_id": p.PayoutID, "amount": p.Amount.StringFixed(2)}}
		if eventType == enums.EventSellerPayoutFailed {
			msg.Template = "payout_failed"
			msg.Title = "Payout failed"
			msg.Body = fmt.Sprintf("Your payout of %s failed: %s", p.Amount.StringFixed(2), p.Reason)
		}
		return []Message{msg}, nil
	}
	return nil, nil
}

func planStateChange(p payloads.OrderStateChangedEvent) []Message {
	link := orderLink(p.OrderID)
	d := map[string]any{"order_id": p.OrderID, "status": p.To, "progress": p.Progress}
	switch p.To {
	case enums.OrderStatusStarted:
		return []Message{{UserID: p.BuyerID, Template: "order_started", Type: enums.NotificationTypeOrderUpdate,
			Title: "Work started", Body: "The seller started working on your order.", Link: link, Data: d}}
	case enums.OrderStatusDelivered:
		return []Message{{UserID: p.BuyerID, Template: "order_delivered", Type: enums.NotificationTypeOrderUpdate,
			Title: "Order delivered", Body: "Your order was delivered. Review it and approve or request a revision.", Link: link, Data: d}}
	case enums.OrderStatusRequestedRevision:
		return []Message{{UserID: p.SellerID, Template: "revision_requested", Type: enums.NotificationTypeOrderUpdate,
			Title: "Revision requested", Body: "The buyer requested changes to your delivery.", Link: link, Data: d}}
	case enums.OrderStatusCompleted:
		return []Message{{UserID: p.BuyerID, Template: "order_completed", Type: enums.NotificationTypeOrderUpdate,
			Title: "Order completed", Body: "Thanks for your order. You can now leave a review.", Link: link, Data: d}}
	}
	return nil
}

func orderLink(orderID uuid.UUID) string {
	return fmt.Sprintf("/orders/%s", orderID)
}
