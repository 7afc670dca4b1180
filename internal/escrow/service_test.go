package escrow

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/pricing"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/db/sqlitetest"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
)

type fakeGateway struct {
	mu          sync.Mutex
	captures    []gateway.CaptureRequest
	refunds     []gateway.RefundRequest
	cancels     []string
	failCapture error
	failRefund  error

	// one-shot hooks that let a test interleave another call
	afterCapture func()
	beforeRefund func()
}

func takeHook(mu *sync.Mutex, hook *func()) func() {
	mu.Lock()
	defer mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (f *fakeGateway) CreateAuthorization(ctx context.Context, req gateway.AuthorizationRequest) (*gateway.Authorization, error) {
	return &gateway.Authorization{IntentID: "pi_new", ClientSecret: "secret", Status: "requires_payment_method"}, nil
}

func (f *fakeGateway) CapturePartial(ctx context.Context, req gateway.CaptureRequest) (*gateway.CaptureResult, error) {
	f.mu.Lock()
	if f.failCapture != nil {
		err := f.failCapture
		f.failCapture = nil
		f.mu.Unlock()
		return nil, err
	}
	f.captures = append(f.captures, req)
	f.mu.Unlock()

	if hook := takeHook(&f.mu, &f.afterCapture); hook != nil {
		hook()
	}
	return &gateway.CaptureResult{IntentID: req.IntentID, Amount: req.Amount, Status: "requires_capture"}, nil
}

func (f *fakeGateway) CancelAuthorization(ctx context.Context, intentID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, key)
	return nil
}

func (f *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if hook := takeHook(&f.mu, &f.beforeRefund); hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefund != nil {
		err := f.failRefund
		f.failRefund = nil
		return nil, err
	}
	f.refunds = append(f.refunds, req)
	return &gateway.RefundResult{RefundID: "re_" + req.IdempotencyKey, Amount: req.Amount, Status: "succeeded"}, nil
}

func (f *fakeGateway) captureKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.captures))
	for _, c := range f.captures {
		keys = append(keys, c.IdempotencyKey)
	}
	return keys
}

type harness struct {
	conn       *gorm.DB
	svc        Service
	gw         *fakeGateway
	orders     orders.Repository
	milestones milestones.Repository
	ledger     revenue.Ledger
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := sqlitetest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	ledger, err := revenue.NewLedger(revenue.NewRepository(conn), enums.CurrencyUSD)
	require.NoError(t, err)

	h := &harness{
		conn:       conn,
		gw:         &fakeGateway{},
		orders:     orders.NewRepository(conn),
		milestones: milestones.NewRepository(conn),
		ledger:     ledger,
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		TransactionRunner: db.FromGorm(conn),
		Orders:            h.orders,
		Milestones:        h.milestones,
		Revenue:           ledger,
		Gateway:           h.gw,
		Outbox:            outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:            logg,
		Clock:             func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// placeOrder stores an order totalling $100 with a 10% platform fee and no VAT.
func (h *harness) placeOrder(t *testing.T) *models.Order {
	t.Helper()
	calc, err := pricing.NewCalculator(decimal.RequireFromString("0.10"))
	require.NoError(t, err)
	quote, err := calc.Quote(decimal.RequireFromString("90.91"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, "100.00", quote.TotalAmount.StringFixed(2))
	split := pricing.SplitMilestones(quote.TotalAmount)

	intent := "pi_" + uuid.NewString()
	deadline := h.now.Add(7 * 24 * time.Hour)
	order, err := h.orders.Create(context.Background(), &models.Order{
		BuyerID:               uuid.New(),
		SellerID:              uuid.New(),
		GigID:                 uuid.New(),
		Price:                 quote.BaseAmount,
		PlatformFeeRate:       quote.PlatformFeeRate,
		PlatformFee:           quote.PlatformFee,
		VATAmount:             quote.VATAmount,
		VATRate:               quote.VATRate,
		TotalAmount:           quote.TotalAmount,
		SellerNetPayout:       quote.SellerNetPayout,
		Currency:              enums.CurrencyUSD,
		PaymentIntentID:       &intent,
		PaymentStatus:         enums.PaymentStatusPending,
		PaymentMilestoneStage: enums.MilestoneStageOrderPlaced,
		EscrowStatus:          enums.EscrowStatusNone,
		AuthorizedAmount:      split.Accepted,
		EscrowAmount:          split.InEscrow,
		DeliveryAmount:        split.Delivered,
		ReviewAmount:          split.Reviewed,
		TotalReleasedAmount:   decimal.Zero,
		PendingReleaseAmount:  decimal.Zero,
		Status:                enums.OrderStatusCreated,
		DeliveryDate:          &deadline,
	})
	require.NoError(t, err)
	return order
}

func buyer(o *models.Order) orders.Viewer {
	return orders.Viewer{UserID: o.BuyerID, Role: enums.ActorRoleBuyer}
}

func seller(o *models.Order) orders.Viewer {
	return orders.Viewer{UserID: o.SellerID, Role: enums.ActorRoleSeller}
}

func (h *harness) assertBalance(t *testing.T, sellerID uuid.UUID, total, pending, available string) {
	t.Helper()
	b, err := h.ledger.Get(context.Background(), sellerID)
	require.NoError(t, err)
	assert.Equal(t, total, b.Total.StringFixed(2), "total")
	assert.Equal(t, pending, b.Pending.StringFixed(2), "pending")
	assert.Equal(t, available, b.Available.StringFixed(2), "available")
}

func (h *harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestHappyPathCapturesFourMilestonesAndReleases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)

	accepted, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAccepted, accepted.Status)
	assert.Equal(t, "10.00", accepted.PendingReleaseAmount.StringFixed(2))
	h.assertBalance(t, order.SellerID, "9.00", "9.00", "0.00")

	started, err := h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusStarted, started.Status)
	assert.Equal(t, enums.MilestoneStageInEscrow, started.PaymentMilestoneStage)
	h.assertBalance(t, order.SellerID, "54.00", "54.00", "0.00")

	delivered, err := h.svc.Deliver(ctx, seller(order), order.ID, DeliverInput{Message: "done", Attachments: []string{"https://files/a.zip"}})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)
	h.assertBalance(t, order.SellerID, "72.00", "72.00", "0.00")

	completed, err := h.svc.Approve(ctx, buyer(order), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, completed.Status)
	assert.Equal(t, enums.EscrowStatusReleased, completed.EscrowStatus)
	assert.Equal(t, enums.MilestoneStageCompleted, completed.PaymentMilestoneStage)
	assert.True(t, completed.IsCompleted)
	assert.Equal(t, 100, completed.Progress)
	assert.NotNil(t, completed.FundsReleasedAt)
	assert.Equal(t, "100.00", completed.TotalReleasedAmount.StringFixed(2))
	assert.True(t, completed.PendingReleaseAmount.IsZero())
	assert.True(t, completed.BreakdownTotal().Equal(completed.TotalAmount))

	h.assertBalance(t, order.SellerID, "90.00", "0.00", "90.00")
	require.NoError(t, h.ledger.Verify(ctx, order.SellerID))

	assert.Equal(t, []string{
		milestones.CaptureKey(order.ID, enums.MilestoneStageAccepted),
		milestones.CaptureKey(order.ID, enums.MilestoneStageInEscrow),
		milestones.CaptureKey(order.ID, enums.MilestoneStageDelivered),
		milestones.CaptureKey(order.ID, enums.MilestoneStageReviewed),
	}, h.gw.captureKeys())
	captured := make([]string, 0, len(h.gw.captures))
	for _, c := range h.gw.captures {
		captured = append(captured, c.Amount.StringFixed(2))
	}
	assert.Equal(t, []string{"10.00", "50.00", "20.00", "20.00"}, captured)
	assert.True(t, h.gw.captures[3].Final)
	assert.False(t, h.gw.captures[0].Final)

	assert.Equal(t, int64(4), h.countEvents(t, enums.EventMilestoneCaptured))
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventEscrowReleased))

	history, err := h.orders.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestDuplicateAuthorizationDoesNotCaptureTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)

	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)
	again, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAccepted, again.Status)

	assert.Len(t, h.gw.captureKeys(), 1)
	rows, err := h.milestones.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	h.assertBalance(t, order.SellerID, "9.00", "9.00", "0.00")
}

func TestRepeatedStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	again, err := h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusStarted, again.Status)
	assert.Len(t, h.gw.captureKeys(), 2)
	h.assertBalance(t, order.SellerID, "54.00", "54.00", "0.00")
}

func TestOutOfOrderActionRejectedThenInOrderSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)

	_, err := h.svc.StartWork(ctx, seller(order), order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "start before authorization: %v", err)

	_, err = h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	_, err = h.svc.Deliver(ctx, seller(order), order.ID, DeliverInput{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "deliver before start: %v", err)
	assert.Len(t, h.gw.captureKeys(), 1)

	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	delivered, err := h.svc.Deliver(ctx, seller(order), order.ID, DeliverInput{})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
}

func TestRoleGating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	_, err = h.svc.StartWork(ctx, buyer(order), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "buyer cannot start: %v", err)

	stranger := orders.Viewer{UserID: uuid.New(), Role: enums.ActorRoleSeller}
	_, err = h.svc.StartWork(ctx, stranger, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "stranger cannot start: %v", err)

	_, err = h.svc.SubmitRequirements(ctx, buyer(order), order.ID, "logo in svg")
	require.NoError(t, err)
	assert.Len(t, h.gw.captureKeys(), 1)
}

func TestRevisionLoopDoesNotDoubleCapture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)
	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	_, err = h.svc.MarkHalfway(ctx, seller(order), order.ID)
	require.NoError(t, err)
	_, err = h.svc.Deliver(ctx, seller(order), order.ID, DeliverInput{})
	require.NoError(t, err)

	revision, err := h.svc.RequestRevision(ctx, buyer(order), order.ID, "wrong colors")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRequestedRevision, revision.Status)
	assert.Equal(t, 80, revision.Progress)

	redelivered, err := h.svc.Deliver(ctx, seller(order), order.ID, DeliverInput{Message: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, redelivered.Status)

	assert.Len(t, h.gw.captureKeys(), 3)
	h.assertBalance(t, order.SellerID, "72.00", "72.00", "0.00")

	completed, err := h.svc.Approve(ctx, buyer(order), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, completed.Status)
	h.assertBalance(t, order.SellerID, "90.00", "0.00", "90.00")
}

func TestCaptureFailureRecordsFailedMilestone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	h.gw.failCapture = pkgerrors.New(pkgerrors.CodeCaptureFailed, "milestone capture failed").
		WithDetails(map[string]any{"reason": "card_declined: insufficient_funds"})
	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCaptureFailed), "expected capture failure, got %v", err)

	current, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAccepted, current.Status)
	assert.Equal(t, enums.PaymentStatusCaptureFailed, current.PaymentStatus)

	rows, err := h.milestones.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	summary := milestones.Summarize(rows)
	assert.Equal(t, 1, summary.Failures)
	assert.False(t, summary.IsCaptured(enums.MilestoneStageInEscrow))
	h.assertBalance(t, order.SellerID, "9.00", "9.00", "0.00")
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventMilestoneCaptureFailed))

	started, err := h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusStarted, started.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, started.PaymentStatus)
}

func TestCancelAfterPartialCaptureRefundsAndReverses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	h.now = h.now.Add(8 * 24 * time.Hour)
	cancelled, err := h.svc.Cancel(ctx, buyer(order), order.ID, "seller went quiet")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, enums.EscrowStatusRefunded, cancelled.EscrowStatus)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.True(t, cancelled.PendingReleaseAmount.IsZero())

	require.Len(t, h.gw.refunds, 1)
	assert.Equal(t, "10.00", h.gw.refunds[0].Amount.StringFixed(2))
	assert.Equal(t, milestones.RefundKey(order.ID, enums.MilestoneStageAccepted), h.gw.refunds[0].IdempotencyKey)
	assert.Equal(t, []string{CancelKey(order.ID)}, h.gw.cancels)

	h.assertBalance(t, order.SellerID, "0.00", "0.00", "0.00")
	require.NoError(t, h.ledger.Verify(ctx, order.SellerID))

	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "no captures after cancel: %v", err)
	assert.Len(t, h.gw.captureKeys(), 1)
}

func TestCancelRetryAfterRefundFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)
	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)

	h.now = h.now.Add(8 * 24 * time.Hour)
	h.gw.failRefund = pkgerrors.New(pkgerrors.CodeRefundFailed, "milestone refund failed")
	_, err = h.svc.Cancel(ctx, buyer(order), order.ID, "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRefundFailed), "expected refund failure, got %v", err)

	current, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusStarted, current.Status)
	// the in_escrow refund went through, the accepted one is still owed
	h.assertBalance(t, order.SellerID, "9.00", "9.00", "0.00")
	assert.Equal(t, "10.00", current.PendingReleaseAmount.StringFixed(2))

	cancelled, err := h.svc.Cancel(ctx, buyer(order), order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Len(t, h.gw.refunds, 2)
	h.assertBalance(t, order.SellerID, "0.00", "0.00", "0.00")
}

func TestCancelRefundsCaptureCommittedDuringRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	h.now = h.now.Add(8 * 24 * time.Hour)
	h.gw.beforeRefund = func() {
		started, err := h.svc.StartWork(ctx, seller(order), order.ID)
		require.NoError(t, err)
		require.Equal(t, enums.OrderStatusStarted, started.Status)
	}

	cancelled, err := h.svc.Cancel(ctx, buyer(order), order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.PendingReleaseAmount.IsZero())

	rows, err := h.milestones.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	summary := milestones.Summarize(rows)
	assert.Empty(t, summary.OutstandingRefunds())
	assert.Equal(t, "60.00", summary.RefundedTotal().StringFixed(2))

	refunded := make([]string, 0, len(h.gw.refunds))
	for _, r := range h.gw.refunds {
		refunded = append(refunded, r.IdempotencyKey)
	}
	assert.ElementsMatch(t, []string{
		milestones.RefundKey(order.ID, enums.MilestoneStageAccepted),
		milestones.RefundKey(order.ID, enums.MilestoneStageInEscrow),
	}, refunded)

	h.assertBalance(t, order.SellerID, "0.00", "0.00", "0.00")
	require.NoError(t, h.ledger.Verify(ctx, order.SellerID))
}

func TestConcurrentCaptureOfSameStageBooksOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)

	var racer *models.Order
	h.gw.afterCapture = func() {
		var err error
		racer, err = h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
		require.NoError(t, err)
	}

	accepted, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)
	require.NotNil(t, racer)
	assert.Equal(t, enums.OrderStatusAccepted, accepted.Status)
	assert.Equal(t, racer.Version, accepted.Version)

	key := milestones.CaptureKey(order.ID, enums.MilestoneStageAccepted)
	assert.Equal(t, []string{key, key}, h.gw.captureKeys())

	var captured int64
	require.NoError(t, h.conn.Model(&models.PaymentMilestone{}).
		Where("order_id = ? AND payment_status = ?", order.ID, enums.MilestoneStatusCaptured).
		Count(&captured).Error)
	assert.Equal(t, int64(1), captured)

	var entries int64
	require.NoError(t, h.conn.Model(&models.RevenueEntry{}).Where("seller_id = ?", order.SellerID).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
	h.assertBalance(t, order.SellerID, "9.00", "9.00", "0.00")
	assert.Equal(t, "10.00", accepted.PendingReleaseAmount.StringFixed(2))
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventMilestoneCaptured))
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, buyer(order), order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "before deadline: %v", err)

	h.now = h.now.Add(8 * 24 * time.Hour)
	_, err = h.svc.Cancel(ctx, seller(order), order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "seller cannot cancel: %v", err)

	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	_, err = h.svc.Deliver(ctx, seller(order), order.ID, DeliverInput{})
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, buyer(order), order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "after delivery: %v", err)
	assert.Empty(t, h.gw.refunds)
}

func TestReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)
	_, err = h.svc.Release(ctx, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition), "release before review: %v", err)

	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	require.NoError(t, err)
	_, err = h.svc.Deliver(ctx, seller(order), order.ID, DeliverInput{})
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, buyer(order), order.ID)
	require.NoError(t, err)

	again, err := h.svc.Release(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, again.Status)
	h.assertBalance(t, order.SellerID, "90.00", "0.00", "90.00")
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventEscrowReleased))
}

func TestDisputeFreezesOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.svc.HandlePaymentAuthorized(ctx, order.IntentID())
	require.NoError(t, err)

	disputed, err := h.svc.OpenDispute(ctx, seller(order), order.ID, "buyer unreachable")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDisputed, disputed.Status)
	assert.Equal(t, 10, disputed.Progress)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventOrderDisputed))

	_, err = h.svc.StartWork(ctx, seller(order), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrecondition))
}

func TestRecordPaymentFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)

	require.NoError(t, h.svc.RecordPaymentFailure(ctx, order.IntentID(), "card_declined"))
	current, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, current.PaymentStatus)
	assert.Equal(t, enums.OrderStatusCreated, current.Status)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventPaymentFailed))

	// a second delivery of the same failure changes nothing
	require.NoError(t, h.svc.RecordPaymentFailure(ctx, order.IntentID(), "card_declined"))
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventPaymentFailed))

	err = h.svc.RecordPaymentFailure(ctx, "pi_unknown", "card_declined")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRecordAuthorizationCanceled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)

	require.NoError(t, h.svc.RecordAuthorizationCanceled(ctx, order.IntentID()))
	current, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, current.PaymentStatus)
}

func TestExtendDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)

	extended, err := h.svc.ExtendDeadline(ctx, ExtendDeadlineInput{OrderID: order.ID, ExtraDays: 3})
	require.NoError(t, err)
	require.NotNil(t, extended.DeliveryDate)
	assert.True(t, extended.DeliveryDate.Equal(order.DeliveryDate.Add(72*time.Hour)), "got %s", extended.DeliveryDate)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventOrderTimelineExtended))

	_, err = h.svc.ExtendDeadline(ctx, ExtendDeadlineInput{OrderID: order.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	if err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
	var typed *pkgerrors.Error
	if !errors.As(err, &typed) || typed.Code() != pkgerrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}
