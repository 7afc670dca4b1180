package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOrders struct {
	rows  []models.Order
	pages int
	stale []models.Order
}

func (f *fakeOrders) ListAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Order, error) {
	f.pages++
	start := 0
	if afterID != uuid.Nil {
		for i, o := range f.rows {
			if o.ID == afterID {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[start:end], nil
}

func (f *fakeOrders) ListStale(ctx context.Context, status enums.OrderStatus, updatedBefore time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.stale {
		if o.Status == status && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeRevenue struct {
	sellers []uuid.UUID
	broken  map[uuid.UUID]error
}

func (f *fakeRevenue) ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if after != uuid.Nil {
		return nil, nil
	}
	return f.sellers, nil
}

func (f *fakeRevenue) Verify(ctx context.Context, sellerID uuid.UUID) error {
	return f.broken[sellerID]
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type countingMetrics struct {
	rules []string
}

func (c *countingMetrics) IncIntegrityViolation(check string) { c.rules = append(c.rules, check) }

func balancedOrder() models.Order {
	d := decimal.RequireFromString
	return models.Order{
		ID:                   uuid.New(),
		TotalAmount:          d("110"),
		AuthorizedAmount:     d("11"),
		EscrowAmount:         d("55"),
		DeliveryAmount:       d("22"),
		ReviewAmount:         d("22"),
		TotalReleasedAmount:  decimal.Zero,
		PendingReleaseAmount: d("66"),
	}
}

func TestReconcileJobCleanRun(t *testing.T) {
	orders := &fakeOrders{rows: []models.Order{balancedOrder(), balancedOrder(), balancedOrder()}}
	emitter := &recordingEmitter{}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:    testLogger(),
		DB:        passthroughTx{},
		Orders:    orders,
		Revenue:   &fakeRevenue{sellers: []uuid.UUID{uuid.New()}},
		Outbox:    emitter,
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("expected clean run, got %v", err)
	}
	if orders.pages != 2 {
		t.Fatalf("expected 2 pages, got %d", orders.pages)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("unexpected alerts %+v", emitter.events)
	}
}

func TestReconcileJobAlertsViolations(t *testing.T) {
	skewed := balancedOrder()
	skewed.ReviewAmount = decimal.RequireFromString("21.99")
	overReleased := balancedOrder()
	overReleased.TotalReleasedAmount = decimal.RequireFromString("110")
	overReleased.PendingReleaseAmount = decimal.RequireFromString("5")

	brokenSeller := uuid.New()
	ledgerErr := pkgerrors.New(pkgerrors.CodeIntegrity, "seller revenue ledger out of balance").
		WithDetails(map[string]any{"seller_id": brokenSeller.String(), "rule": "conservation", "drift": "3.50"})

	emitter := &recordingEmitter{}
	metrics := &countingMetrics{}
	job, _ := NewReconcileJob(ReconcileJobParams{
		Logger:  testLogger(),
		DB:      passthroughTx{},
		Orders:  &fakeOrders{rows: []models.Order{balancedOrder(), skewed, overReleased}},
		Revenue: &fakeRevenue{sellers: []uuid.UUID{uuid.New(), brokenSeller}, broken: map[uuid.UUID]error{brokenSeller: ledgerErr}},
		Outbox:  emitter,
		Metrics: metrics,
	})

	err := job.Run(context.Background())
	if err == nil {
		t.Fatalf("expected violations")
	}
	errs := multierr.Errors(err)
	if len(errs) != 3 {
		t.Fatalf("expected 3 violations, got %d: %v", len(errs), err)
	}
	for _, e := range errs {
		if !pkgerrors.IsCode(e, pkgerrors.CodeIntegrity) {
			t.Fatalf("expected integrity code, got %v", e)
		}
	}
	if len(metrics.rules) != 3 || metrics.rules[0] != ruleBreakdownSum || metrics.rules[1] != ruleEscrowBounds || metrics.rules[2] != "conservation" {
		t.Fatalf("unexpected metric rules %v", metrics.rules)
	}
	if len(emitter.events) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(emitter.events))
	}
	sellerAlert := emitter.events[2]
	if sellerAlert.EventType != enums.EventIntegrityViolationRaised || sellerAlert.AggregateType != enums.AggregateSellerRevenue {
		t.Fatalf("unexpected seller alert %+v", sellerAlert)
	}
	data := sellerAlert.Data.(payloads.IntegrityViolationEvent)
	if data.ID != brokenSeller || data.Drift.StringFixed(2) != "3.50" {
		t.Fatalf("unexpected alert payload %+v", data)
	}
	if emitter.events[0].Data.(payloads.IntegrityViolationEvent).Drift.StringFixed(2) != "0.01" {
		t.Fatalf("unexpected breakdown drift")
	}
}

func TestReconcileJobReportsLookupErrorsWithoutAlerting(t *testing.T) {
	seller := uuid.New()
	emitter := &recordingEmitter{}
	job, _ := NewReconcileJob(ReconcileJobParams{
		Logger:  testLogger(),
		DB:      passthroughTx{},
		Orders:  &fakeOrders{},
		Revenue: &fakeRevenue{sellers: []uuid.UUID{seller}, broken: map[uuid.UUID]error{seller: errors.New("db down")}},
		Outbox:  emitter,
	})
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("lookup failure must not raise an alert")
	}
}

type fakeReleaser struct {
	released []uuid.UUID
	fail     map[uuid.UUID]error
}

func (f *fakeReleaser) Release(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if err := f.fail[orderID]; err != nil {
		return nil, err
	}
	f.released = append(f.released, orderID)
	return &models.Order{ID: orderID, Status: enums.OrderStatusCompleted}, nil
}

func TestReleaseJobRetriesStaleOrders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := models.Order{ID: uuid.New(), Status: enums.OrderStatusWaitingReview, UpdatedAt: now.Add(-time.Hour)}
	failing := models.Order{ID: uuid.New(), Status: enums.OrderStatusWaitingReview, UpdatedAt: now.Add(-time.Hour)}
	fresh := models.Order{ID: uuid.New(), Status: enums.OrderStatusWaitingReview, UpdatedAt: now.Add(-time.Minute)}

	releaser := &fakeReleaser{fail: map[uuid.UUID]error{failing.ID: pkgerrors.New(pkgerrors.CodeDependency, "gateway down")}}
	jobIface, err := NewReleaseJob(ReleaseJobParams{
		Logger: testLogger(),
		Orders: &fakeOrders{stale: []models.Order{stale, failing, fresh}},
		Escrow: releaser,
	})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	job := jobIface.(*releaseJob)
	job.now = func() time.Time { return now }

	err = job.Run(context.Background())
	if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(releaser.released) != 1 || releaser.released[0] != stale.ID {
		t.Fatalf("unexpected releases %v", releaser.released)
	}
}

type fakePruner struct {
	cutoff      time.Time
	minAttempts int
	err         error
}

func (f *fakePruner) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.cutoff = cutoff
	f.minAttempts = minAttemptCount
	return 4, f.err
}

func (f *fakePruner) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 2, f.err
}

func TestRetentionJobUsesConfiguredWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	outboxRepo := &fakePruner{}
	webhookRepo := &fakePruner{}
	jobIface, err := NewRetentionJob(RetentionJobParams{
		Logger:     testLogger(),
		DB:         passthroughTx{},
		Outbox:     outboxRepo,
		Webhooks:   webhookRepo,
		OutboxDays: 7,
	})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	job := jobIface.(*retentionJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outboxRepo.cutoff.Equal(now.AddDate(0, 0, -7)) || outboxRepo.minAttempts != outboxMinAttempts {
		t.Fatalf("unexpected outbox args %s %d", outboxRepo.cutoff, outboxRepo.minAttempts)
	}
	if !webhookRepo.cutoff.Equal(now.AddDate(0, 0, -defaultWebhookRetentionDays)) {
		t.Fatalf("unexpected webhook cutoff %s", webhookRepo.cutoff)
	}
}

func TestRetentionJobCombinesErrors(t *testing.T) {
	job, _ := NewRetentionJob(RetentionJobParams{
		Logger:   testLogger(),
		DB:       passthroughTx{},
		Outbox:   &fakePruner{err: errors.New("outbox")},
		Webhooks: &fakePruner{err: errors.New("webhooks")},
	})
	err := job.Run(context.Background())
	if len(multierr.Errors(err)) != 2 {
		t.Fatalf("expected both errors, got %v", err)
	}
}
