package escrow

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// step is one committed transition: the decision plus what the trigger adds to it.
type step struct {
	decision  Decision
	who       actor
	milestone *models.PaymentMilestone
	timeline  *models.TimelineEntry
	// apply adds trigger specific columns to the order update.
	apply func(updates map[string]any, now time.Time)
	// effects runs trigger specific ledger movements and outbox events inside the transaction.
	effects func(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

// commit writes a transition atomically: the captured milestone, the order
// compare-and-set, history, timeline, the seller ledger movement and outbox events.
func (s *service) commit(ctx context.Context, order *models.Order, st step) (*models.Order, error) {
	now := s.now()
	d := st.decision
	progress := max(order.Progress, d.Progress)

	updates := map[string]any{
		"status":   d.To,
		"progress": progress,
	}
	if st.milestone != nil {
		updates["payment_milestone_stage"] = st.milestone.Stage
		updates["pending_release_amount"] = order.PendingReleaseAmount.Add(st.milestone.Amount)
		updates["payment_status"] = enums.PaymentStatusCompleted
		updates["escrow_status"] = enums.EscrowStatusHeld
	}
	if st.apply != nil {
		st.apply(updates, now)
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		if st.milestone != nil {
			if err := s.milestones.WithTx(tx).Insert(ctx, st.milestone); err != nil {
				return err
			}
		}
		expect := orders.Expectation{Status: order.Status, Version: order.Version}
		if err := orderRepo.CompareAndSet(ctx, order.ID, expect, updates); err != nil {
			return err
		}
		if err := orderRepo.AppendHistory(ctx, orders.NewHistoryEntry(order.ID, d.From, d.To, d.Trigger, st.who.role, st.who.id)); err != nil {
			return err
		}
		if st.timeline != nil {
			if err := orderRepo.AppendTimeline(ctx, st.timeline); err != nil {
				return err
			}
		}
		if st.milestone != nil {
			if err := s.bookCapture(ctx, tx, order, st.who, st.milestone); err != nil {
				return err
			}
		}
		if err := s.emitStateChanged(ctx, tx, order, st.who, d, progress); err != nil {
			return err
		}
		if st.effects != nil {
			if err := st.effects(ctx, tx, order); err != nil {
				return err
			}
		}
		reloaded, err := orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist order transition")
	}
	return updated, nil
}

// statusStep commits a trigger that moves the order without touching money.
func (s *service) statusStep(ctx context.Context, order *models.Order, trigger enums.OrderTrigger, st step) (*models.Order, error) {
	ctx = s.orderContext(ctx, order, trigger)
	decision, err := Transition(order.Status, trigger, st.who.role)
	if err != nil {
		return nil, err
	}
	st.decision = decision
	updated, err := s.commit(ctx, order, st)
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "to", decision.To), "escrow.order.transitioned")
	return updated, nil
}

func (s *service) bookCapture(ctx context.Context, tx *gorm.DB, order *models.Order, who actor, m *models.PaymentMilestone) error {
	orderID := order.ID
	if _, err := s.revenue.WithTx(tx).Apply(ctx, revenue.Movement{
		SellerID:  order.SellerID,
		OrderID:   &orderID,
		Type:      enums.RevenueEntryMilestoneCaptured,
		Amount:    m.SellerNetAmount,
		Currency:  order.Currency,
		Reference: revenue.CaptureReference(order.ID, m.Stage),
	}); err != nil {
		return err
	}
	entry := orders.NewTimelineEntry(order.ID, orders.TimelineMilestoneCaptured,
		"Captured "+m.Amount.StringFixed(2)+" "+string(order.Currency)+" for the "+string(m.Stage)+" milestone", nil)
	if err := s.orders.WithTx(tx).AppendTimeline(ctx, entry); err != nil {
		return err
	}
	return s.emitOrderEvent(ctx, tx, order, who, enums.EventMilestoneCaptured, payloads.MilestoneCapturedEvent{
		OrderID:         order.ID,
		BuyerID:         order.BuyerID,
		SellerID:        order.SellerID,
		Stage:           m.Stage,
		Amount:          m.Amount,
		SellerNetAmount: m.SellerNetAmount,
		Currency:        order.Currency,
	})
}
