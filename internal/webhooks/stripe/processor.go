package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/metrics"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type eventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// ProcessorParams groups the dependencies of the durable webhook pipeline.
type ProcessorParams struct {
	Handler           eventHandler
	Events            Repository
	Guard             eventGuard
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Metrics           *metrics.EscrowMetrics
	Logger            *logger.Logger
	Clock             func() time.Time
}

// Processor records every verified delivery, runs it once and dead-letters failures.
type Processor struct {
	handler eventHandler
	events  Repository
	guard   eventGuard
	outbox  outbox.Emitter
	tx      txRunner
	metrics *metrics.EscrowMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	switch {
	case params.Handler == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler required")
	case params.Events == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook events repository required")
	case params.Guard == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Processor{
		handler: params.Handler,
		events:  params.Events,
		guard:   params.Guard,
		outbox:  params.Outbox,
		tx:      params.TransactionRunner,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

// Process handles one signature-verified delivery. Handler failures are
// dead-lettered and reported through the outcome; only bookkeeping errors are
// returned so the provider retries the delivery.
func (p *Processor) Process(ctx context.Context, event stripe.Event, payload []byte) (Outcome, error) {
	if event.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	ctx = p.logg.WithEventID(ctx, event.ID)
	ctx = p.logg.WithField(ctx, "event_type", string(event.Type))

	seen, err := p.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		// the durable record below still deduplicates
		p.logg.Warn(ctx, "webhook idempotency guard unavailable")
	} else if seen {
		p.observe(event.Type, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	if !json.Valid(payload) {
		payload = []byte("{}")
	}
	row, created, err := p.events.Record(ctx, &models.WebhookEvent{
		Provider:        Provider,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         payload,
		Status:          enums.WebhookEventReceived,
		ReceivedAt:      p.now(),
	})
	if err != nil {
		p.forget(ctx, event.ID)
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	if !created && (row.Status == enums.WebhookEventProcessed || row.Status == enums.WebhookEventIgnored) {
		p.observe(event.Type, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	return p.run(ctx, row, &event)
}

// Replay reprocesses a dead-lettered event from its stored payload.
func (p *Processor) Replay(ctx context.Context, id uuid.UUID) (Outcome, error) {
	row, err := p.events.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if row.Status != enums.WebhookEventFailed {
		return "", pkgerrors.New(pkgerrors.CodePrecondition, "only failed webhook events can be replayed").
			WithDetails(map[string]any{"status": row.Status})
	}
	var event stripe.Event
	if err := json.Unmarshal(row.Payload, &event); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stored webhook payload is not an event")
	}
	ctx = p.logg.WithEventID(ctx, row.ProviderEventID)
	p.logg.Info(ctx, "replaying dead-lettered webhook event")
	return p.run(ctx, row, &event)
}

// ListFailed returns dead-lettered events, oldest first.
func (p *Processor) ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return p.events.ListByStatus(ctx, enums.WebhookEventFailed, limit)
}

func (p *Processor) run(ctx context.Context, row *models.WebhookEvent, event *stripe.Event) (Outcome, error) {
	err := p.handler.HandleEvent(ctx, event)
	switch {
	case err == nil:
		if err := p.events.MarkResult(ctx, row.ID, enums.WebhookEventProcessed, nil, p.now()); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook processed")
		}
		p.observe(event.Type, OutcomeProcessed)
		p.logg.Info(ctx, "webhook event processed")
		return OutcomeProcessed, nil
	case errors.Is(err, ErrNotApplicable):
		if err := p.events.MarkResult(ctx, row.ID, enums.WebhookEventIgnored, nil, p.now()); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook ignored")
		}
		p.observe(event.Type, OutcomeIgnored)
		p.logg.Debug(ctx, "webhook event ignored")
		return OutcomeIgnored, nil
	default:
		return p.deadLetter(ctx, row, event, err)
	}
}

func (p *Processor) deadLetter(ctx context.Context, row *models.WebhookEvent, event *stripe.Event, cause error) (Outcome, error) {
	p.logg.Error(ctx, "webhook event processing failed", cause)
	message := cause.Error()

	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := p.events.WithTx(tx).MarkResult(ctx, row.ID, enums.WebhookEventFailed, &message, p.now()); err != nil {
			return err
		}
		return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWebhookDeadLettered,
			AggregateType: enums.AggregateWebhookEvent,
			AggregateID:   row.ID,
			Data: payloads.WebhookDeadLetteredEvent{
				WebhookEventID:  row.ID,
				ProviderEventID: row.ProviderEventID,
				EventType:       row.EventType,
				Error:           message,
			},
			OccurredAt: p.now(),
		})
	})
	p.forget(ctx, event.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "dead-letter webhook event")
	}
	if p.metrics != nil {
		p.metrics.IncDeadLetter(string(event.Type))
	}
	p.observe(event.Type, OutcomeFailed)
	return OutcomeFailed, nil
}

// forget drops the guard key so a provider resend is not short-circuited.
func (p *Processor) forget(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := p.guard.Delete(ctx, eventID); err != nil {
		p.logg.Warn(ctx, "failed to clear webhook idempotency key")
	}
}

func (p *Processor) observe(eventType stripe.EventType, outcome Outcome) {
	if p.metrics != nil {
		p.metrics.ObserveWebhook(string(eventType), string(outcome))
	}
}
