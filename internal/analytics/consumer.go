package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/registry"
)

const consumerName = "escrow-analytics"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type factWriter interface {
	Insert(ctx context.Context, rows ...*FactRow) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// ConsumerParams groups the analytics worker dependencies.
type ConsumerParams struct {
	Subscription receiver
	Writer       factWriter
	Idempotency  idempotencyChecker
	Decoders     *registry.Decoders
	Logger       *logger.Logger
}

// Consumer copies escrow domain events into the BigQuery facts table.
// Unlike notifications, a failed insert is nacked so Pub/Sub redelivers it.
type Consumer struct {
	subscription receiver
	writer       factWriter
	manager      idempotencyChecker
	decoders     *registry.Decoders
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	switch {
	case params.Subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case params.Writer == nil:
		return nil, errors.New("facts writer is required")
	case params.Idempotency == nil:
		return nil, errors.New("idempotency manager is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	decoders := params.Decoders
	if decoders == nil {
		decoders = NewDecoders()
	}
	return &Consumer{
		subscription: params.Subscription,
		writer:       params.Writer,
		manager:      params.Idempotency,
		decoders:     decoders,
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack    bool
	written bool
}

// Run consumes analytics messages until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *pubsub.Message) {
		if c.process(innerCtx, msg.ID, msg.Attributes, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, body []byte) processResult {
	eventType := enums.OutboxEventType(strings.TrimSpace(attrs["event_type"]))
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if !Tracked(eventType) {
		c.logg.Debug(logCtx, "event not tracked by analytics")
		return processResult{}
	}

	envelope, err := decodeEnvelope(attrs, body)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return processResult{}
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":    envelope.EventID,
		"occurred_at": envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	row, err := BuildFact(c.decoders, eventType, envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to build escrow fact", err)
		return processResult{}
	}

	already, err := c.manager.CheckAndMarkProcessed(logCtx, consumerName, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{}
	}

	if err := c.writer.Insert(logCtx, row); err != nil {
		c.logg.Error(logCtx, "failed to insert escrow fact", err)
		if delErr := c.manager.Delete(logCtx, consumerName, envelope.EventID); delErr != nil {
			c.logg.Error(logCtx, "failed to clear idempotency mark", delErr)
		}
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "escrow fact written")
	return processResult{written: true}
}

func decodeEnvelope(attrs map[string]string, body []byte) (outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return envelope, fmt.Errorf("decode payload envelope: %w", err)
	}

	envelope.EventID = strings.TrimSpace(envelope.EventID)
	if envelope.EventID == "" {
		envelope.EventID = strings.TrimSpace(attrs["event_id"])
	}
	if _, err := uuid.Parse(envelope.EventID); err != nil {
		return envelope, fmt.Errorf("event_id: %w", err)
	}

	if envelope.OccurredAt.IsZero() {
		if created := strings.TrimSpace(attrs["created_at"]); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				envelope.OccurredAt = parsed
			}
		}
	}
	return envelope, nil
}
