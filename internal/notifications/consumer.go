package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/internal/collaborators"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/idempotency"
)

const consumerName = "escrow-notifications"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// ConsumerParams groups the notification worker dependencies.
type ConsumerParams struct {
	Subscription receiver
	Idempotency  *idempotency.Manager
	Directory    collaborators.Directory
	Mailer       collaborators.Mailer
	Notifier     collaborators.Notifier
	Logger       *logger.Logger
}

// Consumer turns escrow domain events into emails and in-app notifications.
// Delivery is best effort: failures are logged and the message is still acked.
type Consumer struct {
	subscription receiver
	idempotency  *idempotency.Manager
	directory    collaborators.Directory
	mailer       collaborators.Mailer
	notifier     collaborators.Notifier
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	switch {
	case params.Subscription == nil:
		return nil, fmt.Errorf("notification subscription required")
	case params.Idempotency == nil:
		return nil, fmt.Errorf("idempotency manager required")
	case params.Directory == nil:
		return nil, fmt.Errorf("directory required")
	case params.Mailer == nil:
		return nil, fmt.Errorf("mailer required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		directory:    params.Directory,
		mailer:       params.Mailer,
		notifier:     params.Notifier,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes["event_type"], msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack       bool
	nack      bool
	delivered int
}

func (c *Consumer) process(ctx context.Context, messageID, eventType string, body []byte) processResult {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	plan, err := Plan(enums.OutboxEventType(eventType), envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	if len(plan) == 0 {
		c.logg.Debug(logCtx, "event has no recipients")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, eventID.String())
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		if at, ok, err := c.idempotency.ProcessedAt(ctx, consumerName, eventID.String()); err == nil && ok {
			logCtx = c.logg.WithField(logCtx, "first_processed_at", at.Format(time.RFC3339))
		}
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	delivered := 0
	for _, msg := range plan {
		if c.deliver(ctx, logCtx, msg) {
			delivered++
		}
	}
	return processResult{ack: true, delivered: delivered}
}

// deliver sends one message; it reports whether both channels succeeded.
func (c *Consumer) deliver(ctx, logCtx context.Context, msg Message) bool {
	logCtx = c.logg.WithFields(logCtx, map[string]any{"recipient_id": msg.UserID.String(), "template": msg.Template})
	ok := true

	if msg.GigID != uuid.Nil {
		if gig, err := c.directory.GetGig(ctx, msg.GigID); err == nil {
			if msg.Data == nil {
				msg.Data = map[string]any{}
			}
			msg.Data["gig_title"] = gig.Title
		}
	}

	user, err := c.directory.GetUser(ctx, msg.UserID)
	if err != nil {
		c.logg.Warn(logCtx, "recipient lookup failed; email skipped")
		ok = false
	} else if err := c.mailer.SendEmail(ctx, msg.Template, user.Email, msg.Data); err != nil {
		c.logg.Error(logCtx, "email dispatch failed", err)
		ok = false
	}

	if err := c.notifier.CreateNotification(ctx, collaborators.Notification{
		UserID:  msg.UserID,
		Type:    msg.Type,
		Title:   msg.Title,
		Message: msg.Body,
		Link:    msg.Link,
	}); err != nil {
		c.logg.Error(logCtx, "notification create failed", err)
		ok = false
	}
	return ok
}
