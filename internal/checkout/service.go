package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/collaborators"
	"github.com/noretmy/escrow-backend/internal/escrow"
	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/pricing"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service opens orders: it prices the gig, authorizes the buyer's card for
// the full total and stores the order in the created state.
type Service interface {
	PlaceOrder(ctx context.Context, buyerID uuid.UUID, input PlaceOrderInput) (*PlaceOrderResult, error)
}

// PlaceOrderInput is what the buyer submits at checkout.
type PlaceOrderInput struct {
	GigID        uuid.UUID
	Requirements string
}

// PlaceOrderResult carries the client secret the buyer confirms the card with.
type PlaceOrderResult struct {
	Order        *models.Order
	ClientSecret string
}

type ServiceParams struct {
	TransactionRunner   txRunner
	Orders              orders.Repository
	Directory           collaborators.Directory
	VATRates            collaborators.VATRates
	Pricing             *pricing.Calculator
	Gateway             gateway.Gateway
	Outbox              outbox.Emitter
	Logger              *logger.Logger
	DefaultDeliveryDays int
	Clock               func() time.Time
}

type service struct {
	tx           txRunner
	orders       orders.Repository
	directory    collaborators.Directory
	vat          collaborators.VATRates
	pricing      *pricing.Calculator
	gateway      gateway.Gateway
	outbox       outbox.Emitter
	logg         *logger.Logger
	deliveryDays int
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Orders == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	case params.Directory == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "directory required")
	case params.VATRates == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "vat rates required")
	case params.Pricing == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "pricing calculator required")
	case params.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	days := params.DefaultDeliveryDays
	if days <= 0 {
		days = 7
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		tx:           params.TransactionRunner,
		orders:       params.Orders,
		directory:    params.Directory,
		vat:          params.VATRates,
		pricing:      params.Pricing,
		gateway:      params.Gateway,
		outbox:       params.Outbox,
		logg:         params.Logger,
		deliveryDays: days,
		now:          func() time.Time { return clock().UTC() },
	}, nil
}

// AuthorizationKey is the provider idempotency key of an order's authorization.
func AuthorizationKey(orderID uuid.UUID) string {
	return fmt.Sprintf("authorize:%s", orderID)
}

func (s *service) PlaceOrder(ctx context.Context, buyerID uuid.UUID, input PlaceOrderInput) (*PlaceOrderResult, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	if input.GigID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gig id required")
	}

	gig, err := s.directory.GetGig(ctx, input.GigID)
	if err != nil {
		return nil, err
	}
	if gig.SellerID == buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot order their own gig")
	}
	buyer, err := s.directory.GetUser(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	vatRate, err := s.vat.GetVatRate(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	quote, err := s.pricing.Quote(gig.Price, vatRate)
	if err != nil {
		return nil, err
	}
	if !quote.TotalAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	split := pricing.SplitMilestones(quote.TotalAmount)

	orderID := uuid.New()
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	currency := gig.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}

	auth, err := s.gateway.CreateAuthorization(ctx, gateway.AuthorizationRequest{
		Amount:        quote.TotalAmount,
		Currency:      currency,
		CustomerEmail: buyer.Email,
		Metadata: gateway.OrderPaymentMetadata{
			OrderID:  orderID,
			BuyerID:  buyerID,
			SellerID: gig.SellerID,
			GigID:    gig.ID,
		},
		IdempotencyKey: AuthorizationKey(orderID),
	})
	if err != nil {
		return nil, err
	}

	days := gig.DeliveryDays
	if days <= 0 {
		days = s.deliveryDays
	}
	deadline := s.now().Add(time.Duration(days) * 24 * time.Hour)
	intentID := auth.IntentID
	order := &models.Order{
		ID:                    orderID,
		BuyerID:               buyerID,
		SellerID:              gig.SellerID,
		GigID:                 gig.ID,
		Price:                 quote.BaseAmount,
		PlatformFeeRate:       quote.PlatformFeeRate,
		PlatformFee:           quote.PlatformFee,
		VATAmount:             quote.VATAmount,
		VATRate:               quote.VATRate,
		TotalAmount:           quote.TotalAmount,
		SellerNetPayout:       quote.SellerNetPayout,
		Currency:              currency,
		PaymentIntentID:       &intentID,
		PaymentStatus:         enums.PaymentStatusPending,
		PaymentMilestoneStage: enums.MilestoneStageOrderPlaced,
		EscrowStatus:          enums.EscrowStatusNone,
		AuthorizedAmount:      split.Accepted,
		EscrowAmount:          split.InEscrow,
		DeliveryAmount:        split.Delivered,
		ReviewAmount:          split.Reviewed,
		Status:                enums.OrderStatusCreated,
		DeliveryDate:          &deadline,
	}
	if req := strings.TrimSpace(input.Requirements); req != "" {
		order.Requirements = &req
	}

	var created *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		stored, err := orderRepo.Create(ctx, order)
		if err != nil {
			return err
		}
		entry := orders.NewTimelineEntry(orderID, orders.TimelineOrderPlaced,
			fmt.Sprintf("Order placed for %s", gig.Title), nil)
		if err := orderRepo.AppendTimeline(ctx, entry); err != nil {
			return err
		}
		created = stored
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: &buyerID, Role: string(enums.ActorRoleBuyer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:     orderID,
				BuyerID:     buyerID,
				SellerID:    gig.SellerID,
				GigID:       gig.ID,
				TotalAmount: quote.TotalAmount,
				Currency:    currency,
			},
			OccurredAt: s.now(),
		})
	})
	if err != nil {
		s.voidAuthorization(ctx, orderID, intentID)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store order")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"intent_id": intentID,
		"total":     quote.TotalAmount.StringFixed(2),
	}), "checkout.order.placed")
	return &PlaceOrderResult{Order: created, ClientSecret: auth.ClientSecret}, nil
}

// voidAuthorization releases the buyer's hold when the order could not be stored.
func (s *service) voidAuthorization(ctx context.Context, orderID uuid.UUID, intentID string) {
	if err := s.gateway.CancelAuthorization(ctx, intentID, escrow.CancelKey(orderID)); err != nil {
		s.logg.Error(ctx, "failed to void authorization after checkout failure", err)
	}
}
