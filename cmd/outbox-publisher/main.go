package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noretmy/escrow-backend/pkg/app"
	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/metrics"
	"github.com/noretmy/escrow-backend/pkg/migrate"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/outbox/registry"
	"github.com/noretmy/escrow-backend/pkg/pubsub"
)

func main() {
	proc := app.Start("outbox-publisher")
	cfg, logg := proc.Config, proc.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	proc.Must(boot, "bootstrap database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Must(boot, "run dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	proc.Must(boot, "bootstrap pubsub", err)
	proc.OnClose("pubsub", pubsubClient.Close)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Must(boot, "build event registry", err)

	service, err := NewService(ServiceParams{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		PubSub:      pubsubClient,
		Store:       outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDeadLetters(dbClient.DB()),
		Registry:    events,
		Metrics:     metrics.NewEscrowMetrics(prometheus.DefaultRegisterer),
	})
	proc.Must(boot, "create outbox publisher", err)

	ctx, stop := proc.SignalContext(map[string]any{"batchSize": cfg.Outbox.BatchSize})
	defer stop()

	logg.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); !app.Stopped(err) {
		proc.Must(ctx, "keep publishing", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
	proc.Close(ctx)
}
