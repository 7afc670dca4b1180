package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

const (
	defaultReleaseGrace = 10 * time.Minute
	releaseBatchSize    = 100
)

type staleOrderReader interface {
	ListStale(ctx context.Context, status enums.OrderStatus, updatedBefore time.Time, limit int) ([]models.Order, error)
}

type escrowReleaser interface {
	Release(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// ReleaseJobParams configure the stuck release sweeper.
type ReleaseJobParams struct {
	Logger *logger.Logger
	Orders staleOrderReader
	Escrow escrowReleaser
	Grace  time.Duration
}

// NewReleaseJob builds the job that retries releases for orders left in
// waiting_review after the review capture succeeded but the release did not.
func NewReleaseJob(params ReleaseJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Escrow == nil:
		return nil, fmt.Errorf("escrow service required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultReleaseGrace
	}
	return &releaseJob{
		logg:   params.Logger,
		orders: params.Orders,
		escrow: params.Escrow,
		grace:  grace,
		now:    time.Now,
	}, nil
}

type releaseJob struct {
	logg   *logger.Logger
	orders staleOrderReader
	escrow escrowReleaser
	grace  time.Duration
	now    func() time.Time
}

func (j *releaseJob) Name() string { return "escrow-release-retry" }

func (j *releaseJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	stale, err := j.orders.ListStale(ctx, enums.OrderStatusWaitingReview, cutoff, releaseBatchSize)
	if err != nil {
		return fmt.Errorf("query stale orders: %w", err)
	}

	var errs error
	released := 0
	for _, order := range stale {
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		if _, err := j.escrow.Release(orderCtx, order.ID); err != nil {
			j.logg.Error(orderCtx, "release retry failed", err)
			errs = multierr.Append(errs, fmt.Errorf("release order %s: %w", order.ID, err))
			continue
		}
		released++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"found":    len(stale),
		"released": released,
	})
	j.logg.Info(logCtx, "release retry loop complete")
	return errs
}
