package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// PaymentMilestone is an immutable record of one capture, failure or refund for a stage.
type PaymentMilestone struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID               uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	Stage                 enums.MilestoneStage  `gorm:"column:stage;type:text;not null"`
	PercentageOfTotal     decimal.Decimal       `gorm:"column:percentage_of_total;type:numeric(5,2);not null"`
	Amount                decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	SellerNetAmount       decimal.Decimal       `gorm:"column:seller_net_amount;type:numeric(12,2);not null"`
	Currency              enums.Currency        `gorm:"column:currency;type:text;not null"`
	StripePaymentIntentID string                `gorm:"column:stripe_payment_intent_id;type:text;not null"`
	IdempotencyKey        string                `gorm:"column:idempotency_key;type:text;not null"`
	PaymentStatus         enums.MilestoneStatus `gorm:"column:payment_status;type:text;not null"`
	ProviderReference     *string               `gorm:"column:provider_reference;type:text"`
	CapturedAt            *time.Time            `gorm:"column:captured_at"`
	FailedAt              *time.Time            `gorm:"column:failed_at"`
	RefundedAt            *time.Time            `gorm:"column:refunded_at"`
	FailureReason         *string               `gorm:"column:failure_reason;type:text"`
	TriggeredByRole       enums.ActorRole       `gorm:"column:triggered_by_role;type:text;not null"`
	TriggeredByAction     enums.OrderTrigger    `gorm:"column:triggered_by_action;type:text;not null"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
}
