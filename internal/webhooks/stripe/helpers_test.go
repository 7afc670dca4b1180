package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/escrow"
	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/db/sqlitetest"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/idempotency"
)

type stubEscrow struct {
	mu          sync.Mutex
	authorized  []string
	failures    map[string]string
	canceled    []string
	extensions  []escrow.ExtendDeadlineInput
	authorizeFn func(intentID string) error
}

func (s *stubEscrow) HandlePaymentAuthorized(ctx context.Context, intentID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authorizeFn != nil {
		if err := s.authorizeFn(intentID); err != nil {
			return nil, err
		}
	}
	s.authorized = append(s.authorized, intentID)
	return &models.Order{}, nil
}

func (s *stubEscrow) RecordPaymentFailure(ctx context.Context, intentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = map[string]string{}
	}
	s.failures[intentID] = reason
	return nil
}

func (s *stubEscrow) RecordAuthorizationCanceled(ctx context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, intentID)
	return nil
}

func (s *stubEscrow) ExtendDeadline(ctx context.Context, input escrow.ExtendDeadlineInput) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions = append(s.extensions, input)
	return &models.Order{ID: input.OrderID}, nil
}

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]string{}}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

type fixture struct {
	conn      *gorm.DB
	escrow    *stubEscrow
	store     *memoryStore
	orders    orders.Repository
	ledger    revenue.Ledger
	events    Repository
	service   *Service
	processor *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := sqlitetest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	ledger, err := revenue.NewLedger(revenue.NewRepository(conn), enums.CurrencyUSD)
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	f := &fixture{
		conn:   conn,
		escrow: &stubEscrow{},
		store:  newMemoryStore(),
		orders: orders.NewRepository(conn),
		ledger: ledger,
		events: NewRepository(conn),
	}
	f.service, err = NewService(ServiceParams{
		Escrow:            f.escrow,
		Orders:            f.orders,
		Revenue:           ledger,
		Outbox:            emitter,
		TransactionRunner: db.FromGorm(conn),
		Logger:            logg,
	})
	require.NoError(t, err)

	manager, err := idempotency.NewManager(f.store, time.Hour)
	require.NoError(t, err)
	guard := manager.For("stripe")
	f.processor, err = NewProcessor(ProcessorParams{
		Handler:           f.service,
		Events:            f.events,
		Guard:             guard,
		Outbox:            emitter,
		TransactionRunner: db.FromGorm(conn),
		Logger:            logg,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

// newEvent builds an event the way ConstructEvent does, from its wire JSON.
func newEvent(t *testing.T, id string, eventType stripe.EventType, object any) (stripe.Event, []byte) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   string(eventType),
		"data":   map[string]any{"object": object},
	})
	require.NoError(t, err)
	var event stripe.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	return event, payload
}

func intentObject(id string, metadata map[string]string) map[string]any {
	return map[string]any{
		"id":              id,
		"object":          "payment_intent",
		"amount":          11000,
		"amount_received": 11000,
		"currency":        "usd",
		"metadata":        metadata,
	}
}

func orderMetadata(orderID uuid.UUID) map[string]string {
	return gateway.OrderPaymentMetadata{OrderID: orderID}.Values()
}

func (f *fixture) createOrder(t *testing.T, intentID string) *models.Order {
	t.Helper()
	deadline := time.Now().Add(72 * time.Hour)
	order, err := f.orders.Create(context.Background(), &models.Order{
		BuyerID:               uuid.New(),
		SellerID:              uuid.New(),
		GigID:                 uuid.New(),
		Price:                 decimal.NewFromInt(100),
		PlatformFee:           decimal.NewFromInt(10),
		VATAmount:             decimal.Zero,
		VATRate:               decimal.Zero,
		TotalAmount:           decimal.NewFromInt(110),
		SellerNetPayout:       decimal.NewFromInt(90),
		Currency:              enums.CurrencyUSD,
		PaymentIntentID:       &intentID,
		PaymentStatus:         enums.PaymentStatusPending,
		PaymentMilestoneStage: enums.MilestoneStageOrderPlaced,
		EscrowStatus:          enums.EscrowStatusNone,
		AuthorizedAmount:      decimal.NewFromInt(11),
		EscrowAmount:          decimal.NewFromInt(55),
		DeliveryAmount:        decimal.NewFromInt(22),
		ReviewAmount:          decimal.NewFromInt(22),
		TotalReleasedAmount:   decimal.Zero,
		PendingReleaseAmount:  decimal.Zero,
		Status:                enums.OrderStatusCreated,
		DeliveryDate:          &deadline,
	})
	require.NoError(t, err)
	return order
}
