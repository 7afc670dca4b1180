package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	orderID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.MilestoneCapturedEvent{
		OrderID: orderID,
		Stage:   enums.MilestoneStageInEscrow,
		Amount:  decimal.RequireFromString("55.00"),
	})

	event := models.OutboxEvent{
		EventType:     enums.EventMilestoneCaptured,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "escrow-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.MilestoneCapturedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.OrderID != orderID || !payload.Amount.Equal(decimal.RequireFromString("55")) {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope metadata missing")
	}
}

func TestEventRegistryRoutesAlertsSeparately(t *testing.T) {
	reg := newTestEventRegistry(t)
	desc, ok := reg.Descriptor(enums.EventWebhookDeadLettered)
	if !ok || desc.Topic != "alerts-topic" {
		t.Fatalf("dead letter alerts should route to alerts topic, got %+v", desc)
	}
	if got := reg.Topics(); len(got) != 2 || got[0] != "alerts-topic" || got[1] != "escrow-topic" {
		t.Fatalf("topics = %v", got)
	}
}

func TestEventRegistryAcceptsLedgerIntegrityAlerts(t *testing.T) {
	reg := newTestEventRegistry(t)
	ledgerID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventIntegrityViolationRaised,
		AggregateType: enums.AggregateSellerRevenue,
		AggregateID:   ledgerID,
		Payload:       mustEnvelope(t, []byte(`{"subject":"seller_revenue","rule":"ledger_drift"}`)),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := resolved.Payload.(*payloads.IntegrityViolationEvent); !ok {
		t.Fatalf("payload type %T", resolved.Payload)
	}

	event.AggregateType = enums.AggregateGig
	if _, err := reg.Resolve(event); err == nil {
		t.Fatal("gig aggregate should not carry integrity alerts")
	}
}

func TestEventRegistryRejectsUnknownSchemaVersion(t *testing.T) {
	reg := newTestEventRegistry(t)
	data, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    7,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       data,
	})
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) || !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("expected non-retryable ErrNoDecoder, got %v", err)
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     "ad_created",
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateGig,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
	}

	for name, event := range cases {
		_, err := reg.Resolve(event)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var nonRetry NonRetryableError
		if !errors.As(err, &nonRetry) {
			t.Fatalf("%s: expected non-retryable error, got %T", name, err)
		}
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{AlertsTopic: "a"}); err == nil {
		t.Fatalf("expected missing escrow topic error")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{EscrowTopic: "escrow-topic", AlertsTopic: "alerts-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
