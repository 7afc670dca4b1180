package escrow

import (
	"context"

	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

func (s *service) emitOrderEvent(ctx context.Context, tx *gorm.DB, order *models.Order, who actor, eventType enums.OutboxEventType, data any) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         who.ref(),
		Data:          data,
		OccurredAt:    s.now(),
	})
}

func (s *service) emitStateChanged(ctx context.Context, tx *gorm.DB, order *models.Order, who actor, d Decision, progress int) error {
	return s.emitOrderEvent(ctx, tx, order, who, enums.EventOrderStateChanged, payloads.OrderStateChangedEvent{
		OrderID:  order.ID,
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
		From:     d.From,
		To:       d.To,
		Trigger:  d.Trigger,
		Progress: progress,
	})
}
