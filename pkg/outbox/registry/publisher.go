package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one event type to its topic.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	// AlsoAccepts lists other aggregate types a row of this event may carry.
	AlsoAccepts []enums.OutboxAggregateType
	Topic       string
}

func (d EventDescriptor) accepts(agg enums.OutboxAggregateType) bool {
	return agg == d.AggregateType || slices.Contains(d.AlsoAccepts, agg)
}

// ResolvedEvent is an outbox row that passed validation, with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// EventRegistry knows every event the outbox may hold: where it is published
// and which envelope versions can be decoded.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]EventDescriptor
	decoders *Decoders
}

// NewEventRegistry builds the registry for the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.EscrowTopic == "":
		return nil, errors.New("escrow topic is required")
	case cfg.AlertsTopic == "":
		return nil, errors.New("alerts topic is required")
	}

	escrow := func(et enums.OutboxEventType, agg enums.OutboxAggregateType) EventDescriptor {
		return EventDescriptor{EventType: et, AggregateType: agg, Topic: cfg.EscrowTopic}
	}
	routes := []EventDescriptor{
		escrow(enums.EventOrderCreated, enums.AggregateOrder),
		escrow(enums.EventOrderStateChanged, enums.AggregateOrder),
		escrow(enums.EventMilestoneCaptured, enums.AggregateOrder),
		escrow(enums.EventMilestoneCaptureFailed, enums.AggregateOrder),
		escrow(enums.EventMilestoneRefunded, enums.AggregateOrder),
		escrow(enums.EventEscrowReleased, enums.AggregateOrder),
		escrow(enums.EventOrderCancelled, enums.AggregateOrder),
		escrow(enums.EventOrderDisputed, enums.AggregateOrder),
		escrow(enums.EventPaymentFailed, enums.AggregateOrder),
		escrow(enums.EventOrderTimelineExtended, enums.AggregateOrder),
		escrow(enums.EventSellerPayoutRecorded, enums.AggregateSellerRevenue),
		escrow(enums.EventSellerPayoutFailed, enums.AggregateSellerRevenue),
		escrow(enums.EventGigPromotionPaid, enums.AggregateGig),
		{EventType: enums.EventWebhookDeadLettered, AggregateType: enums.AggregateWebhookEvent, Topic: cfg.AlertsTopic},
		{
			EventType:     enums.EventIntegrityViolationRaised,
			AggregateType: enums.AggregateOrder,
			AlsoAccepts:   []enums.OutboxAggregateType{enums.AggregateSellerRevenue},
			Topic:         cfg.AlertsTopic,
		},
	}

	decoders, err := NewDecoders(
		JSON[payloads.OrderCreatedEvent](enums.EventOrderCreated, 1),
		JSON[payloads.OrderStateChangedEvent](enums.EventOrderStateChanged, 1),
		JSON[payloads.MilestoneCapturedEvent](enums.EventMilestoneCaptured, 1),
		JSON[payloads.MilestoneCaptureFailedEvent](enums.EventMilestoneCaptureFailed, 1),
		JSON[payloads.MilestoneRefundedEvent](enums.EventMilestoneRefunded, 1),
		JSON[payloads.EscrowReleasedEvent](enums.EventEscrowReleased, 1),
		JSON[payloads.OrderCancelledEvent](enums.EventOrderCancelled, 1),
		JSON[payloads.OrderDisputedEvent](enums.EventOrderDisputed, 1),
		JSON[payloads.PaymentFailedEvent](enums.EventPaymentFailed, 1),
		JSON[payloads.OrderTimelineExtendedEvent](enums.EventOrderTimelineExtended, 1),
		JSON[payloads.SellerPayoutEvent](enums.EventSellerPayoutRecorded, 1),
		JSON[payloads.SellerPayoutEvent](enums.EventSellerPayoutFailed, 1),
		JSON[payloads.GigPromotionPaidEvent](enums.EventGigPromotionPaid, 1),
		JSON[payloads.WebhookDeadLetteredEvent](enums.EventWebhookDeadLettered, 1),
		JSON[payloads.IntegrityViolationEvent](enums.EventIntegrityViolationRaised, 1),
	)
	if err != nil {
		return nil, err
	}

	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]EventDescriptor, len(routes)), decoders: decoders}
	for _, desc := range routes {
		if !decoders.Has(desc.EventType, 1) {
			return nil, fmt.Errorf("event %s has a route but no decoder", desc.EventType)
		}
		reg.routes[desc.EventType] = desc
	}
	return reg, nil
}

// Descriptor returns the route of eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.routes[eventType]
	return desc, ok
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	set := map[string]struct{}{}
	for _, desc := range r.routes {
		set[desc.Topic] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Resolve validates row and decodes its payload. Every error it returns is a
// NonRetryableError: a row that fails here never becomes publishable.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[row.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", row.EventType)
	case !desc.accepts(row.AggregateType):
		return nil, rejectf("aggregate mismatch: %s cannot carry %s", row.AggregateType, row.EventType)
	case row.AggregateID == uuid.Nil:
		return nil, rejectf("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return nil, rejectf("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, rejectf("payload missing for %s", row.EventType)
	}

	payload, err := r.decoders.Decode(row.EventType, max(envelope.Version, 1), envelope.Data)
	if err != nil {
		return nil, rejectf("decode %s payload: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
