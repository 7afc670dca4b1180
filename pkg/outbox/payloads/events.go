package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout opens an order and its authorization.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	GigID       uuid.UUID       `json:"gig_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    enums.Currency  `json:"currency"`
}

// OrderStateChangedEvent accompanies every status transition.
type OrderStateChangedEvent struct {
	OrderID  uuid.UUID          `json:"order_id"`
	BuyerID  uuid.UUID          `json:"buyer_id"`
	SellerID uuid.UUID          `json:"seller_id"`
	From     enums.OrderStatus  `json:"from"`
	To       enums.OrderStatus  `json:"to"`
	Trigger  enums.OrderTrigger `json:"trigger"`
	Progress int                `json:"progress"`
}

// MilestoneCapturedEvent reports a successful partial capture.
type MilestoneCapturedEvent struct {
	OrderID         uuid.UUID            `json:"order_id"`
	BuyerID         uuid.UUID            `json:"buyer_id"`
	SellerID        uuid.UUID            `json:"seller_id"`
	Stage           enums.MilestoneStage `json:"stage"`
	Amount          decimal.Decimal      `json:"amount"`
	SellerNetAmount decimal.Decimal      `json:"seller_net_amount"`
	Currency        enums.Currency       `json:"currency"`
}

// MilestoneCaptureFailedEvent reports a declined or errored capture.
type MilestoneCaptureFailedEvent struct {
	OrderID  uuid.UUID            `json:"order_id"`
	BuyerID  uuid.UUID            `json:"buyer_id"`
	SellerID uuid.UUID            `json:"seller_id"`
	Stage    enums.MilestoneStage `json:"stage"`
	Amount   decimal.Decimal      `json:"amount"`
	Reason   string               `json:"reason"`
}

// MilestoneRefundedEvent reports one compensated stage.
type MilestoneRefundedEvent struct {
	OrderID  uuid.UUID            `json:"order_id"`
	BuyerID  uuid.UUID            `json:"buyer_id"`
	SellerID uuid.UUID            `json:"seller_id"`
	Stage    enums.MilestoneStage `json:"stage"`
	Amount   decimal.Decimal      `json:"amount"`
}

// EscrowReleasedEvent reports the seller's funds becoming available.
type EscrowReleasedEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	ReleasedAt     time.Time       `json:"released_at"`
}

// OrderCancelledEvent is emitted once a cancellation and its refunds complete.
type OrderCancelledEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	CancelledAt    time.Time       `json:"cancelled_at"`
}

// OrderDisputedEvent is emitted when either party opens a dispute.
type OrderDisputedEvent struct {
	OrderID  uuid.UUID         `json:"order_id"`
	BuyerID  uuid.UUID         `json:"buyer_id"`
	SellerID uuid.UUID         `json:"seller_id"`
	OpenedBy enums.ActorRole   `json:"opened_by"`
	From     enums.OrderStatus `json:"from"`
	Reason   string            `json:"reason,omitempty"`
}

// PaymentFailedEvent reports a failed or canceled authorization.
type PaymentFailedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	BuyerID         uuid.UUID `json:"buyer_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Reason          string    `json:"reason"`
}

// SellerPayoutEvent reports a withdrawal that landed or bounced.
type SellerPayoutEvent struct {
	SellerID uuid.UUID       `json:"seller_id"`
	PayoutID string          `json:"payout_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason,omitempty"`
}

// GigPromotionPaidEvent tells the catalog a promotion purchase settled.
type GigPromotionPaidEvent struct {
	GigID           uuid.UUID       `json:"gig_id"`
	SellerID        uuid.UUID       `json:"seller_id"`
	Plan            string          `json:"plan"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentIntentID string          `json:"payment_intent_id"`
}

// OrderTimelineExtendedEvent reports a paid delivery deadline extension.
type OrderTimelineExtendedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	BuyerID         uuid.UUID `json:"buyer_id"`
	SellerID        uuid.UUID `json:"seller_id"`
	ExtraDays       int       `json:"extra_days"`
	NewDeliveryDate time.Time `json:"new_delivery_date"`
}

// WebhookDeadLetteredEvent alerts operators to a webhook that failed processing.
type WebhookDeadLetteredEvent struct {
	WebhookEventID  uuid.UUID `json:"webhook_event_id"`
	ProviderEventID string    `json:"provider_event_id"`
	EventType       string    `json:"event_type"`
	Error           string    `json:"error"`
}

// IntegrityViolationEvent alerts operators to a broken money invariant.
type IntegrityViolationEvent struct {
	Subject string          `json:"subject"`
	ID      uuid.UUID       `json:"id"`
	Rule    string          `json:"rule"`
	Drift   decimal.Decimal `json:"drift"`
}
