package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/registry"
)

type memoryStore struct {
	pending   []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	parked    map[uuid.UUID]int
	claimErr  error
}

func (m *memoryStore) ClaimPending(tx *gorm.DB, limit, ceiling int) ([]models.OutboxEvent, error) {
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	if len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

func (m *memoryStore) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	m.published = append(m.published, id)
	return nil
}

func (m *memoryStore) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memoryStore) Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	if m.parked == nil {
		m.parked = map[uuid.UUID]int{}
	}
	m.parked[id] = ceiling
	return nil
}

type deadLetter struct {
	event  models.OutboxEvent
	reason enums.OutboxDLQErrorReason
}

type memoryDeadLetters struct {
	entries []deadLetter
}

func (m *memoryDeadLetters) Record(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	m.entries = append(m.entries, deadLetter{event: event, reason: reason})
	return nil
}

// envelopeResolver decodes the stored envelope like the real registry and
// routes every event to one topic.
type envelopeResolver struct {
	topic string
	fail  map[uuid.UUID]error
}

func (r envelopeResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if err := r.fail[event.ID]; err != nil {
		return nil, err
	}
	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, registry.NewNonRetryableError(err)
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{EventType: event.EventType, AggregateType: event.AggregateType, Topic: r.topic},
		Envelope:   env,
	}, nil
}

type scriptedTopic struct {
	errs    map[string]error
	sent    []*gcppubsub.Message
	resumed []string
}

func (t *scriptedTopic) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	t.sent = append(t.sent, msg)
	return staticResult{err: t.errs[msg.Attributes["event_id"]]}
}

func (t *scriptedTopic) ResumePublish(orderingKey string) {
	t.resumed = append(t.resumed, orderingKey)
}

type staticResult struct {
	err error
}

func (r staticResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type passthroughDB struct {
	pingErr error
}

func (d passthroughDB) Ping(context.Context) error { return d.pingErr }

func (d passthroughDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type nopPubSub struct{}

func (nopPubSub) Ping(context.Context) error                 { return nil }
func (nopPubSub) Publisher(name string) *gcppubsub.Publisher { return nil }

type countingMetrics map[string]int

func (c countingMetrics) ObserveOutboxPublish(eventType, outcome string) {
	c[eventType+"/"+outcome]++
}

type fixture struct {
	store   *memoryStore
	dead    *memoryDeadLetters
	topic   *scriptedTopic
	metrics countingMetrics
	service *Service
}

func newFixture(t *testing.T, cfg config.OutboxConfig, resolver envelopeResolver, events ...models.OutboxEvent) *fixture {
	t.Helper()
	f := &fixture{
		store:   &memoryStore{pending: events},
		dead:    &memoryDeadLetters{},
		topic:   &scriptedTopic{errs: map[string]error{}},
		metrics: countingMetrics{},
	}
	if resolver.topic == "" {
		resolver.topic = "escrow-topic"
	}
	service, err := NewService(ServiceParams{
		Config:      &config.Config{Outbox: cfg},
		Logger:      logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:          passthroughDB{},
		PubSub:      nopPubSub{},
		Store:       f.store,
		DeadLetters: f.dead,
		Registry:    resolver,
		Metrics:     f.metrics,
		Publishers: func(topic string) topicPublisher {
			if topic != "escrow-topic" {
				return nil
			}
			return f.topic
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.service = service
	return f
}

func orderEvent(t *testing.T, orderID uuid.UUID, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestDrainPublishesWithOrderingKeyAndAttributes(t *testing.T) {
	orderID := uuid.New()
	event := orderEvent(t, orderID, enums.EventMilestoneCaptured, 0)
	f := newFixture(t, config.OutboxConfig{}, envelopeResolver{}, event)

	report, err := f.service.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !report.progressed() || report.counts[outcomePublished] != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(f.topic.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(f.topic.sent))
	}
	msg := f.topic.sent[0]
	if msg.OrderingKey != orderID.String() || msg.Attributes["aggregate_id"] != orderID.String() {
		t.Fatalf("expected order ordering key, got %q", msg.OrderingKey)
	}
	if msg.Attributes["event_type"] != string(enums.EventMilestoneCaptured) || msg.Attributes["event_version"] != "1" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	if len(f.store.published) != 1 || f.store.published[0] != event.ID {
		t.Fatalf("event not marked published")
	}
	if f.metrics["milestone_captured/published"] != 1 {
		t.Fatalf("expected published metric, got %v", f.metrics)
	}
}

func TestDrainDefersLaterEventsOfAStalledOrder(t *testing.T) {
	stalledOrder := uuid.New()
	otherOrder := uuid.New()
	first := orderEvent(t, stalledOrder, enums.EventMilestoneCaptured, 0)
	second := orderEvent(t, stalledOrder, enums.EventEscrowReleased, 0)
	unrelated := orderEvent(t, otherOrder, enums.EventOrderCreated, 0)
	f := newFixture(t, config.OutboxConfig{MaxAttempts: 5}, envelopeResolver{}, first, second, unrelated)
	f.topic.errs[first.ID.String()] = errors.New("unavailable")

	report, err := f.service.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.counts[outcomeRetry] != 1 || report.counts[outcomeDeferred] != 1 || report.counts[outcomePublished] != 1 {
		t.Fatalf("unexpected report %+v", report.counts)
	}
	for _, msg := range f.topic.sent {
		if msg.Attributes["event_id"] == second.ID.String() {
			t.Fatalf("release must not be published before the capture it follows")
		}
	}
	if len(f.store.failed) != 1 || f.store.failed[0] != first.ID {
		t.Fatalf("expected failure recorded for the first event, got %v", f.store.failed)
	}
	if len(f.topic.resumed) != 1 || f.topic.resumed[0] != stalledOrder.String() {
		t.Fatalf("expected ordering key resumed, got %v", f.topic.resumed)
	}
	if len(f.store.published) != 1 || f.store.published[0] != unrelated.ID {
		t.Fatalf("other orders should keep flowing, got %v", f.store.published)
	}
}

func TestDrainDeadLettersAtAttemptCeiling(t *testing.T) {
	event := orderEvent(t, uuid.New(), enums.EventOrderCreated, 1)
	f := newFixture(t, config.OutboxConfig{MaxAttempts: 2}, envelopeResolver{}, event)
	f.topic.errs[event.ID.String()] = errors.New("deadline exceeded")

	report, err := f.service.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.counts[outcomeDeadLettered] != 1 {
		t.Fatalf("unexpected report %+v", report.counts)
	}
	if len(f.dead.entries) != 1 || f.dead.entries[0].reason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("expected max attempts dead letter, got %+v", f.dead.entries)
	}
	if f.store.parked[event.ID] != 2 {
		t.Fatalf("expected row parked at the ceiling, got %v", f.store.parked)
	}
}

func TestDrainDeadLetterReasons(t *testing.T) {
	undecodable := orderEvent(t, uuid.New(), enums.EventOrderCreated, 0)
	rejected := orderEvent(t, uuid.New(), enums.EventOrderCreated, 0)
	resolver := envelopeResolver{fail: map[uuid.UUID]error{
		undecodable.ID: registry.NewNonRetryableError(errors.New("unsupported event type")),
	}}
	f := newFixture(t, config.OutboxConfig{}, resolver, undecodable, rejected)
	f.topic.errs[rejected.ID.String()] = registry.NewNonRetryableError(errors.New("message too large"))

	if _, err := f.service.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(f.dead.entries) != 2 {
		t.Fatalf("expected two dead letters, got %d", len(f.dead.entries))
	}
	if f.dead.entries[0].reason != enums.OutboxDLQReasonDecodeFailed || f.dead.entries[1].reason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected reasons %+v", f.dead.entries)
	}
	if len(f.store.failed) != 0 {
		t.Fatalf("permanent failures must not count as retries")
	}
}

func TestDrainDeadLettersUnknownTopic(t *testing.T) {
	event := orderEvent(t, uuid.New(), enums.EventWebhookDeadLettered, 0)
	f := newFixture(t, config.OutboxConfig{}, envelopeResolver{topic: "alerts-topic"}, event)

	if _, err := f.service.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(f.dead.entries) != 1 || f.dead.entries[0].reason != enums.OutboxDLQReasonNoPublisher {
		t.Fatalf("expected no publisher dead letter, got %+v", f.dead.entries)
	}
}

func TestDrainSurfacesClaimErrors(t *testing.T) {
	f := newFixture(t, config.OutboxConfig{}, envelopeResolver{})
	f.store.claimErr = errors.New("connection reset")

	if _, err := f.service.drain(context.Background()); err == nil {
		t.Fatalf("expected claim error")
	}
}

func TestRunStopsOnCancelAndChecksReadiness(t *testing.T) {
	f := newFixture(t, config.OutboxConfig{PollIntervalMS: 1}, envelopeResolver{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.service.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	f.service.db = passthroughDB{pingErr: errors.New("refused")}
	if err := f.service.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
}

func TestNewServiceAppliesFallbacks(t *testing.T) {
	f := newFixture(t, config.OutboxConfig{}, envelopeResolver{})
	s := f.service
	if s.batchSize != fallbackBatchSize || s.ceiling != fallbackCeiling {
		t.Fatalf("unexpected sizing %d/%d", s.batchSize, s.ceiling)
	}
	if s.pollInterval != fallbackPollInterval || s.publishTimeout != fallbackPublishTimeout || s.maxBackoff != fallbackMaxBackoff {
		t.Fatalf("unexpected timing %v/%v/%v", s.pollInterval, s.publishTimeout, s.maxBackoff)
	}
	if _, err := NewService(ServiceParams{Config: &config.Config{}}); err == nil {
		t.Fatalf("expected missing dependency error")
	}
}
