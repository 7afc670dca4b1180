package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/escrow"
	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// ErrNotApplicable marks an event that was understood but needs no work.
var ErrNotApplicable = errors.New("webhook event not applicable")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowEngine interface {
	HandlePaymentAuthorized(ctx context.Context, intentID string) (*models.Order, error)
	RecordPaymentFailure(ctx context.Context, intentID, reason string) error
	RecordAuthorizationCanceled(ctx context.Context, intentID string) error
	ExtendDeadline(ctx context.Context, input escrow.ExtendDeadlineInput) (*models.Order, error)
}

type handlerFunc func(ctx context.Context, event *stripe.Event) error

// ServiceParams groups the dependencies of the event dispatcher.
type ServiceParams struct {
	Escrow            escrowEngine
	Orders            orders.Repository
	Revenue           revenue.Ledger
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service applies verified provider events to the escrow domain.
type Service struct {
	escrow   escrowEngine
	orders   orders.Repository
	revenue  revenue.Ledger
	outbox   outbox.Emitter
	tx       txRunner
	logg     *logger.Logger
	handlers map[stripe.EventType]handlerFunc
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Escrow == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "escrow engine required")
	case params.Orders == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	case params.Revenue == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "revenue ledger required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}

	s := &Service{
		escrow:  params.Escrow,
		orders:  params.Orders,
		revenue: params.Revenue,
		outbox:  params.Outbox,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
	}
	s.handlers = map[stripe.EventType]handlerFunc{
		stripe.EventTypePaymentIntentAmountCapturableUpdated: s.handleIntentAuthorized,
		stripe.EventTypePaymentIntentSucceeded:               s.handleIntentAuthorized,
		stripe.EventTypePaymentIntentPaymentFailed:           s.handleIntentFailed,
		stripe.EventTypePaymentIntentCanceled:                s.handleIntentCanceled,
		stripe.EventTypeChargeRefunded:                       s.handleChargeRefunded,
		stripe.EventTypePayoutPaid:                           s.handlePayoutPaid,
		stripe.EventTypePayoutFailed:                         s.handlePayoutFailed,
		stripe.EventTypeAccountUpdated:                       s.handleAccountUpdated,
	}
	return s, nil
}

// Handles reports whether the event type has a handler.
func (s *Service) Handles(eventType stripe.EventType) bool {
	_, ok := s.handlers[eventType]
	return ok
}

// HandleEvent dispatches on the event type. Unknown types return ErrNotApplicable.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	handler, ok := s.handlers[event.Type]
	if !ok {
		return ErrNotApplicable
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
	return handler(ctx, event)
}

func (s *Service) handleIntentAuthorized(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decodeObject(event, &intent); err != nil {
		return err
	}
	meta, err := gateway.ParseMetadata(intent.Metadata)
	if err != nil {
		return err
	}
	succeeded := event.Type == stripe.EventTypePaymentIntentSucceeded

	switch m := meta.(type) {
	case gateway.OrderPaymentMetadata:
		_, err := s.escrow.HandlePaymentAuthorized(ctx, intent.ID)
		return err
	case gateway.PromotionMetadata:
		if !succeeded {
			return ErrNotApplicable
		}
		return s.emitPromotionPaid(ctx, intent, m)
	case gateway.TimelineExtensionMetadata:
		if !succeeded {
			return ErrNotApplicable
		}
		_, err := s.escrow.ExtendDeadline(ctx, escrow.ExtendDeadlineInput{
			OrderID:   m.OrderID,
			ExtraDays: m.ExtraDays,
			IntentID:  intent.ID,
		})
		return err
	default:
		return ErrNotApplicable
	}
}

func (s *Service) emitPromotionPaid(ctx context.Context, intent stripe.PaymentIntent, m gateway.PromotionMetadata) error {
	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventGigPromotionPaid,
			AggregateType: enums.AggregateGig,
			AggregateID:   m.GigID,
			Data: payloads.GigPromotionPaidEvent{
				GigID:           m.GigID,
				SellerID:        m.SellerID,
				Plan:            m.Plan,
				Amount:          gateway.FromMinorUnits(amount),
				PaymentIntentID: intent.ID,
			},
		})
	})
}

func (s *Service) handleIntentFailed(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decodeObject(event, &intent); err != nil {
		return err
	}
	if !isOrderIntent(intent.Metadata) {
		return ErrNotApplicable
	}
	reason := "payment failed"
	if intent.LastPaymentError != nil && strings.TrimSpace(intent.LastPaymentError.Msg) != "" {
		reason = intent.LastPaymentError.Msg
	}
	return s.escrow.RecordPaymentFailure(ctx, intent.ID, reason)
}

func (s *Service) handleIntentCanceled(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decodeObject(event, &intent); err != nil {
		return err
	}
	if !isOrderIntent(intent.Metadata) {
		return ErrNotApplicable
	}
	return s.escrow.RecordAuthorizationCanceled(ctx, intent.ID)
}

// handleChargeRefunded confirms on the order timeline what the cancel flow already booked.
func (s *Service) handleChargeRefunded(ctx context.Context, event *stripe.Event) error {
	var charge stripe.Charge
	if err := decodeObject(event, &charge); err != nil {
		return err
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return ErrNotApplicable
	}
	order, err := s.orders.FindByIntentID(ctx, charge.PaymentIntent.ID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return ErrNotApplicable
		}
		return err
	}
	message := fmt.Sprintf("Provider confirmed refund of %s", gateway.FromMinorUnits(charge.AmountRefunded).StringFixed(2))
	entry := orders.NewTimelineEntry(order.ID, orders.TimelineRefundConfirmation, message, nil)
	return s.orders.AppendTimeline(ctx, entry)
}

func (s *Service) handlePayoutPaid(ctx context.Context, event *stripe.Event) error {
	var payout stripe.Payout
	if err := decodeObject(event, &payout); err != nil {
		return err
	}
	sellerID, ok := payoutSeller(payout.Metadata)
	if !ok {
		s.logg.Warn(s.logg.WithField(ctx, "payout_id", payout.ID), "payout without seller metadata ignored")
		return ErrNotApplicable
	}
	amount := gateway.FromMinorUnits(payout.Amount)

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.revenue.WithTx(tx).Apply(ctx, revenue.Movement{
			SellerID:  sellerID,
			Type:      enums.RevenueEntryWithdrawal,
			Amount:    amount,
			Currency:  currencyOf(payout.Currency),
			Reference: revenue.PayoutReference(payout.ID),
		})
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSellerPayoutRecorded,
			AggregateType: enums.AggregateSellerRevenue,
			AggregateID:   sellerID,
			Data: payloads.SellerPayoutEvent{
				SellerID: sellerID,
				PayoutID: payout.ID,
				Amount:   amount,
			},
		})
	})
}

func (s *Service) handlePayoutFailed(ctx context.Context, event *stripe.Event) error {
	var payout stripe.Payout
	if err := decodeObject(event, &payout); err != nil {
		return err
	}
	sellerID, ok := payoutSeller(payout.Metadata)
	if !ok {
		return ErrNotApplicable
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSellerPayoutFailed,
			AggregateType: enums.AggregateSellerRevenue,
			AggregateID:   sellerID,
			Data: payloads.SellerPayoutEvent{
				SellerID: sellerID,
				PayoutID: payout.ID,
				Amount:   gateway.FromMinorUnits(payout.Amount),
				Reason:   payout.FailureMessage,
			},
		})
	})
}

func (s *Service) handleAccountUpdated(ctx context.Context, event *stripe.Event) error {
	var account stripe.Account
	if err := decodeObject(event, &account); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"account_id":      account.ID,
		"charges_enabled": account.ChargesEnabled,
		"payouts_enabled": account.PayoutsEnabled,
	}), "connected account updated")
	return nil
}

func decodeObject(event *stripe.Event, target any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "event payload missing object")
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event object")
	}
	return nil
}

func isOrderIntent(metadata map[string]string) bool {
	meta, err := gateway.ParseMetadata(metadata)
	if err != nil {
		return false
	}
	return meta.Purpose() == enums.PaymentPurposeOrder
}

func payoutSeller(metadata map[string]string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(metadata["seller_id"]))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func currencyOf(c stripe.Currency) enums.Currency {
	if c == "" {
		return ""
	}
	return enums.Currency(strings.ToLower(string(c)))
}
