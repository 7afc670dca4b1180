package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// Order is a marketplace gig purchase whose payment is captured in escrow tranches.
type Order struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID  uuid.UUID `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID uuid.UUID `gorm:"column:seller_id;type:uuid;not null"`
	GigID    uuid.UUID `gorm:"column:gig_id;type:uuid;not null"`

	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	PlatformFeeRate decimal.Decimal `gorm:"column:platform_fee_rate;type:numeric(6,4);not null"`
	PlatformFee     decimal.Decimal `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	VATAmount       decimal.Decimal `gorm:"column:vat_amount;type:numeric(12,2);not null"`
	VATRate         decimal.Decimal `gorm:"column:vat_rate;type:numeric(6,4);not null"`
	TotalAmount     decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	SellerNetPayout decimal.Decimal `gorm:"column:seller_net_payout;type:numeric(12,2);not null"`
	Currency        enums.Currency  `gorm:"column:currency;type:text;not null"`

	PaymentIntentID       *string              `gorm:"column:payment_intent_id;type:text"`
	PaymentStatus         enums.PaymentStatus  `gorm:"column:payment_status;type:text;not null"`
	PaymentMilestoneStage enums.MilestoneStage `gorm:"column:payment_milestone_stage;type:text;not null"`
	EscrowStatus          enums.EscrowStatus   `gorm:"column:escrow_status;type:text;not null"`

	// Stage breakdown of TotalAmount; the four stage columns always sum to it.
	AuthorizedAmount     decimal.Decimal `gorm:"column:authorized_amount;type:numeric(12,2);not null"`
	EscrowAmount         decimal.Decimal `gorm:"column:escrow_amount;type:numeric(12,2);not null"`
	DeliveryAmount       decimal.Decimal `gorm:"column:delivery_amount;type:numeric(12,2);not null"`
	ReviewAmount         decimal.Decimal `gorm:"column:review_amount;type:numeric(12,2);not null"`
	TotalReleasedAmount  decimal.Decimal `gorm:"column:total_released_amount;type:numeric(12,2);not null"`
	PendingReleaseAmount decimal.Decimal `gorm:"column:pending_release_amount;type:numeric(12,2);not null"`

	Status       enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Progress     int               `gorm:"column:progress;not null;default:0"`
	Requirements *string           `gorm:"column:requirements;type:text"`
	DeliveryDate *time.Time        `gorm:"column:delivery_date"`
	IsCompleted  bool              `gorm:"column:is_completed;not null;default:false"`

	FundsReleasedAt *time.Time `gorm:"column:funds_released_at"`
	CancelledAt     *time.Time `gorm:"column:cancelled_at"`
	DeliveredAt     *time.Time `gorm:"column:delivered_at"`

	Version   int       `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// StageAmount returns the breakdown column backing a capture stage.
func (o *Order) StageAmount(stage enums.MilestoneStage) decimal.Decimal {
	switch stage {
	case enums.MilestoneStageAccepted:
		return o.AuthorizedAmount
	case enums.MilestoneStageInEscrow:
		return o.EscrowAmount
	case enums.MilestoneStageDelivered:
		return o.DeliveryAmount
	case enums.MilestoneStageReviewed:
		return o.ReviewAmount
	default:
		return decimal.Zero
	}
}

// BreakdownTotal sums the four stage columns.
func (o *Order) BreakdownTotal() decimal.Decimal {
	return o.AuthorizedAmount.Add(o.EscrowAmount).Add(o.DeliveryAmount).Add(o.ReviewAmount)
}

func (o *Order) IntentID() string {
	if o == nil || o.PaymentIntentID == nil {
		return ""
	}
	return *o.PaymentIntentID
}
