package analytics

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
	"github.com/noretmy/escrow-backend/pkg/outbox/registry"
)

const envelopeVersion = 1

// FactRow mirrors the escrow_facts BigQuery schema. Money columns are NUMERIC.
type FactRow struct {
	EventID         string            `bigquery:"event_id"`
	EventType       string            `bigquery:"event_type"`
	OccurredAt      time.Time         `bigquery:"occurred_at"`
	OrderID         *string           `bigquery:"order_id"`
	BuyerID         *string           `bigquery:"buyer_id"`
	SellerID        *string           `bigquery:"seller_id"`
	Stage           *string           `bigquery:"stage"`
	Amount          *big.Rat          `bigquery:"amount"`
	SellerNetAmount *big.Rat          `bigquery:"seller_net_amount"`
	Currency        *string           `bigquery:"currency"`
	Reason          *string           `bigquery:"reason"`
	Payload         bigquery.NullJSON `bigquery:"payload"`
}

// FactPartitionField is the column escrow_facts is day-partitioned on.
const FactPartitionField = "occurred_at"

// FactSchema is the escrow_facts table layout used when the table is created.
var FactSchema = bigquery.Schema{
	{Name: "event_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "event_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "occurred_at", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "order_id", Type: bigquery.StringFieldType},
	{Name: "buyer_id", Type: bigquery.StringFieldType},
	{Name: "seller_id", Type: bigquery.StringFieldType},
	{Name: "stage", Type: bigquery.StringFieldType},
	{Name: "amount", Type: bigquery.NumericFieldType},
	{Name: "seller_net_amount", Type: bigquery.NumericFieldType},
	{Name: "currency", Type: bigquery.StringFieldType},
	{Name: "reason", Type: bigquery.StringFieldType},
	{Name: "payload", Type: bigquery.JSONFieldType},
}

// factBuilder fills the event specific columns of a row.
type factBuilder func(row *FactRow, payload any) error

var builders = map[enums.OutboxEventType]factBuilder{
	enums.EventOrderCreated: func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.OrderCreatedEvent)
		if !ok {
			return errPayloadType(enums.EventOrderCreated)
		}
		row.setParties(p.OrderID, p.BuyerID, p.SellerID)
		row.Amount = ratOf(p.TotalAmount)
		row.Currency = strPtr(string(p.Currency))
		return nil
	},
	enums.EventMilestoneCaptured: func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.MilestoneCapturedEvent)
		if !ok {
			return errPayloadType(enums.EventMilestoneCaptured)
		}
		row.setParties(p.OrderID, p.BuyerID, p.SellerID)
		row.Stage = strPtr(string(p.Stage))
		row.Amount = ratOf(p.Amount)
		row.SellerNetAmount = ratOf(p.SellerNetAmount)
		row.Currency = strPtr(string(p.Currency))
		return nil
	},
	enums.EventMilestoneCaptureFailed: func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.MilestoneCaptureFailedEvent)
		if !ok {
			return errPayloadType(enums.EventMilestoneCaptureFailed)
		}
		row.setParties(p.OrderID, p.BuyerID, p.SellerID)
		row.Stage = strPtr(string(p.Stage))
		row.Amount = ratOf(p.Amount)
		row.Reason = strPtr(p.Reason)
		return nil
	},
	enums.EventMilestoneRefunded: func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.MilestoneRefundedEvent)
		if !ok {
			return errPayloadType(enums.EventMilestoneRefunded)
		}
		row.setParties(p.OrderID, p.BuyerID, p.SellerID)
		row.Stage = strPtr(string(p.Stage))
		row.Amount = ratOf(p.Amount.Neg())
		return nil
	},
	enums.EventEscrowReleased: func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.EscrowReleasedEvent)
		if !ok {
			return errPayloadType(enums.EventEscrowReleased)
		}
		row.setParties(p.OrderID, p.BuyerID, p.SellerID)
		row.SellerNetAmount = ratOf(p.ReleasedAmount)
		return nil
	},
	enums.EventOrderCancelled: func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.OrderCancelledEvent)
		if !ok {
			return errPayloadType(enums.EventOrderCancelled)
		}
		row.setParties(p.OrderID, p.BuyerID, p.SellerID)
		row.Amount = ratOf(p.RefundedAmount.Neg())
		return nil
	},
	enums.EventOrderDisputed: func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.OrderDisputedEvent)
		if !ok {
			return errPayloadType(enums.EventOrderDisputed)
		}
		row.setParties(p.OrderID, p.BuyerID, p.SellerID)
		row.Reason = strPtr(p.Reason)
		return nil
	},
	enums.EventSellerPayoutRecorded: sellerPayout(enums.EventSellerPayoutRecorded),
	enums.EventSellerPayoutFailed:   sellerPayout(enums.EventSellerPayoutFailed),
}

func sellerPayout(eventType enums.OutboxEventType) factBuilder {
	return func(row *FactRow, payload any) error {
		p, ok := payload.(*payloads.SellerPayoutEvent)
		if !ok {
			return errPayloadType(eventType)
		}
		row.SellerID = idPtr(p.SellerID)
		row.SellerNetAmount = ratOf(p.Amount)
		row.Reason = strPtr(p.Reason)
		return nil
	}
}

// NewDecoders binds the payload decoders for every event that becomes a fact.
func NewDecoders() *registry.Decoders {
	return registry.MustDecoders(
		registry.JSON[payloads.OrderCreatedEvent](enums.EventOrderCreated, envelopeVersion),
		registry.JSON[payloads.MilestoneCapturedEvent](enums.EventMilestoneCaptured, envelopeVersion),
		registry.JSON[payloads.MilestoneCaptureFailedEvent](enums.EventMilestoneCaptureFailed, envelopeVersion),
		registry.JSON[payloads.MilestoneRefundedEvent](enums.EventMilestoneRefunded, envelopeVersion),
		registry.JSON[payloads.EscrowReleasedEvent](enums.EventEscrowReleased, envelopeVersion),
		registry.JSON[payloads.OrderCancelledEvent](enums.EventOrderCancelled, envelopeVersion),
		registry.JSON[payloads.OrderDisputedEvent](enums.EventOrderDisputed, envelopeVersion),
		registry.JSON[payloads.SellerPayoutEvent](enums.EventSellerPayoutRecorded, envelopeVersion),
		registry.JSON[payloads.SellerPayoutEvent](enums.EventSellerPayoutFailed, envelopeVersion),
	)
}

// Tracked reports whether eventType produces an escrow fact.
func Tracked(eventType enums.OutboxEventType) bool {
	_, ok := builders[eventType]
	return ok
}

// BuildFact decodes the envelope payload and flattens it into a fact row.
func BuildFact(decoders *registry.Decoders, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (*FactRow, error) {
	build, ok := builders[eventType]
	if !ok {
		return nil, fmt.Errorf("event %s is not tracked", eventType)
	}
	version := envelope.Version
	if version == 0 {
		version = envelopeVersion
	}
	payload, err := decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}

	row := &FactRow{
		EventID:    envelope.EventID,
		EventType:  string(eventType),
		OccurredAt: envelope.OccurredAt.UTC(),
	}
	if len(envelope.Data) > 0 {
		row.Payload = bigquery.NullJSON{Valid: true, JSONVal: string(envelope.Data)}
	}
	if err := build(row, payload); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *FactRow) setParties(orderID, buyerID, sellerID uuid.UUID) {
	r.OrderID = idPtr(orderID)
	r.BuyerID = idPtr(buyerID)
	r.SellerID = idPtr(sellerID)
}

func errPayloadType(eventType enums.OutboxEventType) error {
	return fmt.Errorf("invalid payload for %s", eventType)
}

func ratOf(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func idPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
