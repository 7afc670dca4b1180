package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/internal/collaborators"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/idempotency"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

func TestPlanOrderCreatedAddressesBothParties(t *testing.T) {
	p := payloads.OrderCreatedEvent{OrderID: uuid.New(), BuyerID: uuid.New(), SellerID: uuid.New(), GigID: uuid.New(),
		TotalAmount: decimal.NewFromInt(110), Currency: enums.CurrencyUSD}
	data, _ := json.Marshal(p)

	plan, err := Plan(enums.EventOrderCreated, data)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(plan))
	}
	if plan[0].UserID != p.SellerID || plan[1].UserID != p.BuyerID {
		t.Fatalf("unexpected recipients %+v", plan)
	}
	if plan[0].GigID != p.GigID {
		t.Fatalf("expected gig lookup requested")
	}
}

func TestPlanStateChangeOnlyNotifiesOnMilestones(t *testing.T) {
	base := payloads.OrderStateChangedEvent{OrderID: uuid.New(), BuyerID: uuid.New(), SellerID: uuid.New()}

	base.To = enums.OrderStatusDelivered
	data, _ := json.Marshal(base)
	plan, err := Plan(enums.EventOrderStateChanged, data)
	if err != nil || len(plan) != 1 || plan[0].UserID != base.BuyerID {
		t.Fatalf("delivered should notify buyer: %+v %v", plan, err)
	}

	base.To = enums.OrderStatusRequestedRevision
	data, _ = json.Marshal(base)
	plan, _ = Plan(enums.EventOrderStateChanged, data)
	if len(plan) != 1 || plan[0].UserID != base.SellerID {
		t.Fatalf("revision should notify seller: %+v", plan)
	}

	base.To = enums.OrderStatusHalfwayDone
	data, _ = json.Marshal(base)
	plan, _ = Plan(enums.EventOrderStateChanged, data)
	if len(plan) != 0 {
		t.Fatalf("halfway should not notify, got %+v", plan)
	}
}

func TestPlanDisputeNotifiesCounterparty(t *testing.T) {
	p := payloads.OrderDisputedEvent{OrderID: uuid.New(), BuyerID: uuid.New(), SellerID: uuid.New(), OpenedBy: enums.ActorRoleSeller}
	data, _ := json.Marshal(p)
	plan, err := Plan(enums.EventOrderDisputed, data)
	if err != nil || len(plan) != 1 || plan[0].UserID != p.BuyerID {
		t.Fatalf("expected buyer notified, got %+v %v", plan, err)
	}
}

func TestPlanUnknownEventHasNoMessages(t *testing.T) {
	plan, err := Plan(enums.EventWebhookDeadLettered, []byte(`{}`))
	if err != nil || len(plan) != 0 {
		t.Fatalf("expected no messages, got %+v %v", plan, err)
	}
}

func TestConsumerDeliversOnceAndToleratesFailures(t *testing.T) {
	buyer := uuid.New()
	seller := uuid.New()
	dir := &fakeDirectory{users: map[uuid.UUID]string{buyer: "buyer@example.com"}}
	mailer := &fakeMailer{}
	notifier := &fakeNotifier{}
	c := newTestConsumer(t, dir, mailer, notifier)

	body := envelope(t, payloads.OrderCancelledEvent{OrderID: uuid.New(), BuyerID: buyer, SellerID: seller,
		RefundedAmount: decimal.NewFromInt(66), CancelledAt: time.Now()})

	result := c.process(context.Background(), "m1", string(enums.EventOrderCancelled), body)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	// the seller has no directory entry so only the buyer is fully delivered
	if result.delivered != 1 {
		t.Fatalf("expected 1 full delivery, got %d", result.delivered)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "buyer@example.com" {
		t.Fatalf("unexpected emails %v", mailer.sent)
	}
	if len(notifier.created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.created))
	}

	result = c.process(context.Background(), "m2", string(enums.EventOrderCancelled), body)
	if !result.ack || result.delivered != 0 {
		t.Fatalf("duplicate should be acked without delivery, got %+v", result)
	}
	if len(notifier.created) != 2 {
		t.Fatalf("duplicate delivered notifications")
	}
}

func TestConsumerAcksMalformedEnvelope(t *testing.T) {
	c := newTestConsumer(t, &fakeDirectory{}, &fakeMailer{}, &fakeNotifier{})
	result := c.process(context.Background(), "m1", string(enums.EventOrderCreated), []byte("not json"))
	if !result.ack {
		t.Fatalf("malformed message should be acked")
	}
}

func TestConsumerMailerErrorStillAcks(t *testing.T) {
	buyer := uuid.New()
	c := newTestConsumer(t, &fakeDirectory{users: map[uuid.UUID]string{buyer: "b@example.com"}},
		&fakeMailer{err: errors.New("smtp down")}, &fakeNotifier{})
	body := envelope(t, payloads.PaymentFailedEvent{OrderID: uuid.New(), BuyerID: buyer, Reason: "declined"})

	result := c.process(context.Background(), "m1", string(enums.EventPaymentFailed), body)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
}

func newTestConsumer(t *testing.T, dir *fakeDirectory, mailer *fakeMailer, notifier *fakeNotifier) *Consumer {
	t.Helper()
	manager, err := idempotency.NewManager(newMemoryStore(), time.Hour)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	c, err := NewConsumer(ConsumerParams{
		Subscription: noopReceiver{},
		Idempotency:  manager,
		Directory:    dir,
		Mailer:       mailer,
		Notifier:     notifier,
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	return c
}

func envelope(t *testing.T, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), OccurredAt: time.Now(), Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

type noopReceiver struct{}

func (noopReceiver) Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error {
	return nil
}

type fakeDirectory struct {
	users map[uuid.UUID]string
}

func (d *fakeDirectory) GetUser(ctx context.Context, id uuid.UUID) (*collaborators.User, error) {
	email, ok := d.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &collaborators.User{ID: id, Email: email}, nil
}

func (d *fakeDirectory) GetGig(ctx context.Context, id uuid.UUID) (*collaborators.Gig, error) {
	return &collaborators.Gig{ID: id, Title: "Logo design"}, nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (m *fakeMailer) SendEmail(ctx context.Context, template, recipient string, data map[string]any) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, recipient)
	return nil
}

type fakeNotifier struct {
	created []collaborators.Notification
}

func (n *fakeNotifier) CreateNotification(ctx context.Context, in collaborators.Notification) error {
	n.created = append(n.created, in)
	return nil
}

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]struct{}{}}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}
