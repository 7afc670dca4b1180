package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/logger"
)

const (
	defaultOutboxRetentionDays  = 30
	defaultWebhookRetentionDays = 90
	outboxMinAttempts           = 10
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type webhookPruner interface {
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJobParams configure pruning of published outbox rows and settled
// webhook deliveries.
type RetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Outbox      outboxPruner
	Webhooks    webhookPruner
	OutboxDays  int
	WebhookDays int
	MaxAttempts int
}

func NewRetentionJob(params RetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.Webhooks == nil:
		return nil, fmt.Errorf("webhook repository required")
	}
	job := &retentionJob{
		logg:        params.Logger,
		db:          params.DB,
		outbox:      params.Outbox,
		webhooks:    params.Webhooks,
		outboxDays:  params.OutboxDays,
		webhookDays: params.WebhookDays,
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}
	if job.outboxDays <= 0 {
		job.outboxDays = defaultOutboxRetentionDays
	}
	if job.webhookDays <= 0 {
		job.webhookDays = defaultWebhookRetentionDays
	}
	if job.maxAttempts <= 0 {
		job.maxAttempts = outboxMinAttempts
	}
	return job, nil
}

type retentionJob struct {
	logg        *logger.Logger
	db          txRunner
	outbox      outboxPruner
	webhooks    webhookPruner
	outboxDays  int
	webhookDays int
	maxAttempts int
	now         func() time.Time
}

func (j *retentionJob) Name() string { return "retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.AddDate(0, 0, -j.outboxDays)
	webhookCutoff := now.AddDate(0, 0, -j.webhookDays)

	var errs error
	var outboxDeleted, webhookDeleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.outbox.DeletePublishedBefore(ctx, tx, outboxCutoff, j.maxAttempts)
		outboxDeleted = rows
		return err
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("outbox retention: %w", err))
	}
	webhookDeleted, err = j.webhooks.DeleteSettledBefore(ctx, webhookCutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("webhook retention: %w", err))
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"outbox_cutoff":   outboxCutoff,
		"outbox_deleted":  outboxDeleted,
		"webhook_cutoff":  webhookCutoff,
		"webhook_deleted": webhookDeleted,
	})
	j.logg.Info(logCtx, "retention cleanup complete")
	return errs
}
