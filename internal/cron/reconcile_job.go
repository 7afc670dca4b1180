package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/payloads"
)

const defaultReconcileBatch = 500

const (
	ruleBreakdownSum = "breakdown_sum"
	ruleEscrowBounds = "escrow_bounds"
)

type orderPager interface {
	ListAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Order, error)
}

type sellerVerifier interface {
	ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	Verify(ctx context.Context, sellerID uuid.UUID) error
}

// ReconcileJobParams configure the money invariant reconciliation.
type ReconcileJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Orders    orderPager
	Revenue   sellerVerifier
	Outbox    alertEmitter
	Metrics   integrityMetrics
	BatchSize int
}

// NewReconcileJob builds the job that re-checks every order breakdown and
// every seller ledger. Violations are alerted and never corrected.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Revenue == nil:
		return nil, fmt.Errorf("revenue ledger required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &reconcileJob{
		logg:    params.Logger,
		db:      params.DB,
		orders:  params.Orders,
		revenue: params.Revenue,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type reconcileJob struct {
	logg    *logger.Logger
	db      txRunner
	orders  orderPager
	revenue sellerVerifier
	outbox  alertEmitter
	metrics integrityMetrics
	batch   int
	now     func() time.Time
}

type violation struct {
	subject enums.OutboxAggregateType
	id      uuid.UUID
	rule    string
	drift   decimal.Decimal
}

func (v violation) Error() string {
	return fmt.Sprintf("%s %s violates %s (drift %s)", v.subject, v.id, v.rule, v.drift.String())
}

func (j *reconcileJob) Name() string { return "escrow-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	var errs error
	orderCount, err := j.checkOrders(ctx)
	errs = multierr.Append(errs, err)
	sellerCount, err := j.checkSellers(ctx)
	errs = multierr.Append(errs, err)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"orders_checked":  orderCount,
		"sellers_checked": sellerCount,
		"failures":        len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "escrow reconciliation complete")
	return errs
}

func (j *reconcileJob) checkOrders(ctx context.Context) (int, error) {
	var errs error
	checked := 0
	after := uuid.Nil
	for {
		page, err := j.orders.ListAfter(ctx, after, j.batch)
		if err != nil {
			return checked, multierr.Append(errs, fmt.Errorf("list orders: %w", err))
		}
		for i := range page {
			order := &page[i]
			checked++
			for _, v := range orderViolations(order) {
				errs = multierr.Append(errs, j.raise(ctx, v))
			}
		}
		if len(page) < j.batch {
			return checked, errs
		}
		after = page[len(page)-1].ID
	}
}

// orderViolations reports the stage breakdown not summing to the total and
// released plus pending escrow exceeding it.
func orderViolations(order *models.Order) []violation {
	var out []violation
	if drift := order.TotalAmount.Sub(order.BreakdownTotal()); !drift.IsZero() {
		out = append(out, violation{subject: enums.AggregateOrder, id: order.ID, rule: ruleBreakdownSum, drift: drift})
	}
	held := order.TotalReleasedAmount.Add(order.PendingReleaseAmount)
	if held.GreaterThan(order.TotalAmount) {
		out = append(out, violation{subject: enums.AggregateOrder, id: order.ID, rule: ruleEscrowBounds,
			drift: held.Sub(order.TotalAmount)})
	}
	return out
}

func (j *reconcileJob) checkSellers(ctx context.Context) (int, error) {
	var errs error
	checked := 0
	after := uuid.Nil
	for {
		ids, err := j.revenue.ListSellerIDs(ctx, after, j.batch)
		if err != nil {
			return checked, multierr.Append(errs, fmt.Errorf("list sellers: %w", err))
		}
		for _, id := range ids {
			checked++
			err := j.revenue.Verify(ctx, id)
			if err == nil {
				continue
			}
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeIntegrity {
				errs = multierr.Append(errs, fmt.Errorf("verify seller %s: %w", id, err))
				continue
			}
			errs = multierr.Append(errs, j.raise(ctx, sellerViolation(id, typed)))
		}
		if len(ids) < j.batch {
			return checked, errs
		}
		after = ids[len(ids)-1]
	}
}

func sellerViolation(sellerID uuid.UUID, err *pkgerrors.Error) violation {
	v := violation{subject: enums.AggregateSellerRevenue, id: sellerID, rule: "ledger"}
	details, ok := err.Details().(map[string]any)
	if !ok {
		return v
	}
	if rule, ok := details["rule"].(string); ok {
		v.rule = rule
	}
	if raw, ok := details["drift"].(string); ok {
		if drift, parseErr := decimal.NewFromString(raw); parseErr == nil {
			v.drift = drift
		}
	}
	return v
}

// raise logs, counts and alerts one violation, returning it as an
// INTEGRITY_VIOLATION so the run is marked failed.
func (j *reconcileJob) raise(ctx context.Context, v violation) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subject": string(v.subject),
		"id":      v.id.String(),
		"rule":    v.rule,
		"drift":   v.drift.String(),
	})
	integrityErr := pkgerrors.Wrap(pkgerrors.CodeIntegrity, v, "reconciliation failed")
	j.logg.Error(logCtx, "integrity violation", integrityErr)
	if j.metrics != nil {
		j.metrics.IncIntegrityViolation(v.rule)
	}

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIntegrityViolationRaised,
			AggregateType: v.subject,
			AggregateID:   v.id,
			Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
			Version:       1,
			OccurredAt:    j.now().UTC(),
			Data: payloads.IntegrityViolationEvent{
				Subject: string(v.subject),
				ID:      v.id,
				Rule:    v.rule,
				Drift:   v.drift,
			},
		})
	})
	if err != nil {
		return multierr.Append(integrityErr, fmt.Errorf("emit integrity alert: %w", err))
	}
	return integrityErr
}
