package main

import (
	"context"
	"errors"

	"github.com/noretmy/escrow-backend/internal/analytics"
	"github.com/noretmy/escrow-backend/pkg/app"
	"github.com/noretmy/escrow-backend/pkg/bigquery"
	"github.com/noretmy/escrow-backend/pkg/outbox/idempotency"
	"github.com/noretmy/escrow-backend/pkg/pubsub"
	"github.com/noretmy/escrow-backend/pkg/redis"
)

// The analytics worker streams escrow money movements into the BigQuery facts table.
func main() {
	proc := app.Start("analytics-worker")
	cfg, logg := proc.Config, proc.Logger
	boot := context.Background()

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	proc.Must(boot, "bootstrap redis", err)
	proc.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	proc.Must(boot, "bootstrap pubsub", err)
	proc.OnClose("pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(boot, cfg.GCP, cfg.BigQuery, logg)
	proc.Must(boot, "bootstrap bigquery", err)
	proc.OnClose("bigquery", bqClient.Close)

	proc.Must(boot, "prepare escrow facts table", bqClient.EnsureTable(boot, analytics.FactSchema, analytics.FactPartitionField))

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		proc.Must(boot, "find analytics subscription", errors.New("subscription not configured"))
	}

	processed, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Must(boot, "create idempotency manager", err)

	writer, err := analytics.NewWriter(bqClient, bqClient.Table(), analytics.RetryPolicy{})
	proc.Must(boot, "create escrow facts writer", err)

	consumer, err := analytics.NewConsumer(analytics.ConsumerParams{
		Subscription: subscription,
		Writer:       writer,
		Idempotency:  processed,
		Logger:       logg,
	})
	proc.Must(boot, "create analytics consumer", err)

	ctx, stop := proc.SignalContext(map[string]any{"table": bqClient.Table()})
	defer stop()

	proc.Must(ctx, "reach dependencies", app.Ready(ctx, logg,
		app.Check{Name: "redis", Ping: redisClient.Ping},
		app.Check{Name: "pubsub", Ping: pubsubClient.Ping},
		app.Check{Name: "bigquery", Ping: bqClient.Ping},
	))

	logg.Info(ctx, "analytics worker ready")
	proc.Must(ctx, "run analytics worker", app.Supervise(ctx, logg, app.Task{Name: "escrow-facts", Run: consumer.Run}))

	logg.Info(ctx, "analytics worker shutting down gracefully")
	proc.Close(ctx)
}
