package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize      = 50
	fallbackPollInterval   = 500 * time.Millisecond
	fallbackCeiling        = 10
	fallbackPublishTimeout = 15 * time.Second
	fallbackMaxBackoff     = 10 * time.Second
	jitterWindow           = 250 * time.Millisecond
)

type transactor interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	ClaimPending(tx *gorm.DB, limit, ceiling int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error
	Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error
}

type deadLetterStore interface {
	Record(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publishMetrics interface {
	ObserveOutboxPublish(eventType, outcome string)
}

// topicPublisher is the slice of an ordered Pub/Sub publisher the loop needs.
// After a failed publish the ordering key stays paused until ResumePublish.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type ServiceParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          transactor
	PubSub      pubSubClient
	Store       eventStore
	DeadLetters deadLetterStore
	Registry    eventResolver
	Metrics     publishMetrics
	// Publishers overrides topic lookup on the Pub/Sub client.
	Publishers func(topic string) topicPublisher
}

// Service drains the escrow outbox into Pub/Sub. Events of one order are
// published in creation order: once an order's event fails, its later events
// in the same batch wait for the next one.
type Service struct {
	logg        *logger.Logger
	db          transactor
	pubsub      pubSubClient
	store       eventStore
	deadLetters deadLetterStore
	registry    eventResolver
	metrics     publishMetrics
	publishers  func(topic string) topicPublisher

	batchSize      int
	ceiling        int
	pollInterval   time.Duration
	publishTimeout time.Duration
	maxBackoff     time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Store == nil:
		return nil, errors.New("outbox store is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config.Outbox
	s := &Service{
		logg:           params.Logger,
		db:             params.DB,
		pubsub:         params.PubSub,
		store:          params.Store,
		deadLetters:    params.DeadLetters,
		registry:       params.Registry,
		metrics:        params.Metrics,
		publishers:     params.Publishers,
		batchSize:      positiveOr(cfg.BatchSize, fallbackBatchSize),
		ceiling:        positiveOr(cfg.MaxAttempts, fallbackCeiling),
		pollInterval:   positiveOr(time.Duration(cfg.PollIntervalMS)*time.Millisecond, fallbackPollInterval),
		publishTimeout: positiveOr(cfg.PublishTimeout, fallbackPublishTimeout),
		maxBackoff:     positiveOr(cfg.MaxBackoff, fallbackMaxBackoff),
	}
	if s.publishers == nil {
		s.publishers = s.clientPublisher
	}
	return s, nil
}

func (s *Service) clientPublisher(topic string) topicPublisher {
	p := s.pubsub.Publisher(topic)
	if p == nil {
		return nil
	}
	return orderedTopic{p}
}

// Run polls until ctx is cancelled. A batch that published something is
// followed immediately by the next one; idle or failing batches back off.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, "pubsub": s.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		report, err := s.drain(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch aborted", err)
			wait = min(wait*2, s.maxBackoff)
		case report.progressed():
			wait = s.pollInterval
			continue
		case report.claimed > 0:
			wait = min(wait*2, s.maxBackoff)
		default:
			wait = s.pollInterval
		}

		if err := sleepCtx(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

type outcome string

const (
	outcomePublished    outcome = "published"
	outcomeRetry        outcome = "retry"
	outcomeDeadLettered outcome = "dead_lettered"
	outcomeDeferred     outcome = "deferred"
)

type batchReport struct {
	claimed int
	counts  map[outcome]int
}

// progressed reports whether the batch moved any row out of the pending set.
func (r batchReport) progressed() bool {
	return r.counts[outcomePublished]+r.counts[outcomeDeadLettered] > 0
}

func (s *Service) drain(ctx context.Context) (batchReport, error) {
	report := batchReport{counts: map[outcome]int{}}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.ClaimPending(tx, s.batchSize, s.ceiling)
		if err != nil {
			return fmt.Errorf("claim pending events: %w", err)
		}
		report.claimed = len(events)

		stalled := map[uuid.UUID]struct{}{}
		for _, event := range events {
			if _, ok := stalled[event.AggregateID]; ok {
				report.counts[outcomeDeferred]++
				continue
			}
			result, err := s.dispatch(ctx, tx, event)
			if err != nil {
				return err
			}
			if result == outcomeRetry {
				stalled[event.AggregateID] = struct{}{}
			}
			report.counts[result]++
			s.observe(event.EventType, result)
		}
		return nil
	})
	return report, err
}

// dispatch publishes one event and records the result on its row. The error
// return is reserved for bookkeeping failures that must roll the batch back.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonDecodeFailed, err)
	}
	topic := resolved.Descriptor.Topic
	ctx = s.logg.WithFields(ctx, map[string]any{"topic": topic, "event_id": resolved.Envelope.EventID})

	pub := s.publishers(topic)
	if pub == nil {
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNoPublisher, fmt.Errorf("no publisher for topic %q", topic))
	}

	err = s.publish(ctx, pub, event, resolved)
	var permanent registry.NonRetryableError
	switch {
	case err == nil:
		if err := s.store.MarkPublished(tx, event.ID, time.Now()); err != nil {
			return "", fmt.Errorf("mark %s published: %w", event.ID, err)
		}
		s.logg.Info(ctx, "outbox event published")
		return outcomePublished, nil
	case errors.As(err, &permanent):
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	case event.AttemptCount+1 >= s.ceiling:
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("attempt %d of %d: %w", event.AttemptCount+1, s.ceiling, err))
	default:
		if err := s.store.RecordFailure(tx, event.ID, err); err != nil {
			return "", fmt.Errorf("record failure of %s: %w", event.ID, err)
		}
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "outbox publish failed, will retry")
		return outcomeRetry, nil
	}
}

func (s *Service) publish(ctx context.Context, pub topicPublisher, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	key := event.AggregateID.String()
	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"event_version":  strconv.Itoa(max(resolved.Envelope.Version, 1)),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   key,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(errors.New("publisher returned no result"))
	}
	if _, err := result.Get(publishCtx); err != nil {
		pub.ResumePublish(key)
		return err
	}
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"dlq_reason": reason, "error": cause.Error()}), "outbox event dead-lettered")
	if err := s.deadLetters.Record(tx, event, reason, cause); err != nil {
		return fmt.Errorf("dead-letter %s: %w", event.ID, err)
	}
	if err := s.store.Park(tx, event.ID, cause, s.ceiling); err != nil {
		return fmt.Errorf("park %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) observe(eventType enums.OutboxEventType, result outcome) {
	if s.metrics != nil {
		s.metrics.ObserveOutboxPublish(string(eventType), string(result))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

type orderedTopic struct {
	p *gcppubsub.Publisher
}

func (t orderedTopic) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return t.p.Publish(ctx, msg)
}

func (t orderedTopic) ResumePublish(orderingKey string) {
	t.p.ResumePublish(orderingKey)
}
