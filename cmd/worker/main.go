package main

import (
	"context"
	"errors"

	"github.com/noretmy/escrow-backend/internal/collaborators"
	"github.com/noretmy/escrow-backend/internal/notifications"
	"github.com/noretmy/escrow-backend/pkg/app"
	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/outbox/idempotency"
	"github.com/noretmy/escrow-backend/pkg/pubsub"
	"github.com/noretmy/escrow-backend/pkg/redis"
)

// The worker turns escrow outbox events into buyer and seller notifications.
func main() {
	proc := app.Start("worker")
	cfg, logg := proc.Config, proc.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	proc.Must(boot, "bootstrap database", err)
	proc.OnClose("database", dbClient.Close)

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	proc.Must(boot, "bootstrap redis", err)
	proc.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	proc.Must(boot, "bootstrap pubsub", err)
	proc.OnClose("pubsub", pubsubClient.Close)

	processed, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Must(boot, "create idempotency manager", err)

	mailer, err := collaborators.NewPubSubMailer(pubsubClient.EmailPublisher())
	proc.Must(boot, "create mailer", err)

	subscription := pubsubClient.NotificationSubscription()
	if subscription == nil {
		proc.Must(boot, "find notification subscription", errors.New("subscription not configured"))
	}

	consumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Subscription: subscription,
		Idempotency:  processed,
		Directory:    collaborators.NewDirectory(dbClient.DB()),
		Mailer:       mailer,
		Notifier:     collaborators.NewNotifier(dbClient.DB()),
		Logger:       logg,
	})
	proc.Must(boot, "create notification consumer", err)

	ctx, stop := proc.SignalContext(nil)
	defer stop()

	proc.Must(ctx, "reach dependencies", app.Ready(ctx, logg,
		app.Check{Name: "database", Ping: dbClient.Ping},
		app.Check{Name: "redis", Ping: redisClient.Ping},
		app.Check{Name: "pubsub", Ping: pubsubClient.Ping},
	))

	logg.Info(ctx, "starting worker")
	err = app.Supervise(ctx, logg, app.Task{Name: "notifications", Run: consumer.Run})
	proc.Must(ctx, "run worker", err)

	logg.Info(ctx, "worker shutting down gracefully")
	proc.Close(ctx)
}
