package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
)

// Viewer is the authenticated caller reading an order.
type Viewer struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// Breakdown mirrors the stage columns of an order.
type Breakdown struct {
	AuthorizedAmount     decimal.Decimal `json:"authorized_amount"`
	EscrowAmount         decimal.Decimal `json:"escrow_amount"`
	DeliveryAmount       decimal.Decimal `json:"delivery_amount"`
	ReviewAmount         decimal.Decimal `json:"review_amount"`
	TotalReleasedAmount  decimal.Decimal `json:"total_released_amount"`
	PendingReleaseAmount decimal.Decimal `json:"pending_release_amount"`
}

type MilestoneView struct {
	Stage         enums.MilestoneStage  `json:"stage"`
	Status        enums.MilestoneStatus `json:"status"`
	Amount        decimal.Decimal       `json:"amount"`
	Percentage    decimal.Decimal       `json:"percentage_of_total"`
	CapturedAt    *time.Time            `json:"captured_at,omitempty"`
	FailedAt      *time.Time            `json:"failed_at,omitempty"`
	RefundedAt    *time.Time            `json:"refunded_at,omitempty"`
	FailureReason *string               `json:"failure_reason,omitempty"`
}

// OrderView is the API representation of an order with its milestones.
type OrderView struct {
	ID                    uuid.UUID            `json:"id"`
	BuyerID               uuid.UUID            `json:"buyer_id"`
	SellerID              uuid.UUID            `json:"seller_id"`
	GigID                 uuid.UUID            `json:"gig_id"`
	Status                enums.OrderStatus    `json:"status"`
	Progress              int                  `json:"progress"`
	Price                 decimal.Decimal      `json:"price"`
	PlatformFee           decimal.Decimal      `json:"platform_fee"`
	VATAmount             decimal.Decimal      `json:"vat_amount"`
	VATRate               decimal.Decimal      `json:"vat_rate"`
	TotalAmount           decimal.Decimal      `json:"total_amount"`
	Currency              enums.Currency       `json:"currency"`
	PaymentStatus         enums.PaymentStatus  `json:"payment_status"`
	PaymentMilestoneStage enums.MilestoneStage `json:"payment_milestone_stage"`
	EscrowStatus          enums.EscrowStatus   `json:"escrow_status"`
	Breakdown             Breakdown            `json:"breakdown"`
	Milestones            []MilestoneView      `json:"milestones"`
	DeliveryDate          *time.Time           `json:"delivery_date,omitempty"`
	IsCompleted           bool                 `json:"is_completed"`
	FundsReleasedAt       *time.Time           `json:"funds_released_at,omitempty"`
	CancelledAt           *time.Time           `json:"cancelled_at,omitempty"`
	DeliveredAt           *time.Time           `json:"delivered_at,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

type TimelineView struct {
	Event       string    `json:"event"`
	Message     string    `json:"message"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewOrderView(order *models.Order, milestones []models.PaymentMilestone) OrderView {
	view := OrderView{
		ID:                    order.ID,
		BuyerID:               order.BuyerID,
		SellerID:              order.SellerID,
		GigID:                 order.GigID,
		Status:                order.Status,
		Progress:              order.Progress,
		Price:                 order.Price,
		PlatformFee:           order.PlatformFee,
		VATAmount:             order.VATAmount,
		VATRate:               order.VATRate,
		TotalAmount:           order.TotalAmount,
		Currency:              order.Currency,
		PaymentStatus:         order.PaymentStatus,
		PaymentMilestoneStage: order.PaymentMilestoneStage,
		EscrowStatus:          order.EscrowStatus,
		Breakdown: Breakdown{
			AuthorizedAmount:     order.AuthorizedAmount,
			EscrowAmount:         order.EscrowAmount,
			DeliveryAmount:       order.DeliveryAmount,
			ReviewAmount:         order.ReviewAmount,
			TotalReleasedAmount:  order.TotalReleasedAmount,
			PendingReleaseAmount: order.PendingReleaseAmount,
		},
		Milestones:      make([]MilestoneView, 0, len(milestones)),
		DeliveryDate:    order.DeliveryDate,
		IsCompleted:     order.IsCompleted,
		FundsReleasedAt: order.FundsReleasedAt,
		CancelledAt:     order.CancelledAt,
		DeliveredAt:     order.DeliveredAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, m := range milestones {
		view.Milestones = append(view.Milestones, MilestoneView{
			Stage:         m.Stage,
			Status:        m.PaymentStatus,
			Amount:        m.Amount,
			Percentage:    m.PercentageOfTotal,
			CapturedAt:    m.CapturedAt,
			FailedAt:      m.FailedAt,
			RefundedAt:    m.RefundedAt,
			FailureReason: m.FailureReason,
		})
	}
	return view
}

func NewTimelineView(entry models.TimelineEntry) TimelineView {
	return TimelineView{
		Event:       entry.Event,
		Message:     entry.Message,
		Attachments: []string(entry.Attachments),
		CreatedAt:   entry.CreatedAt,
	}
}
