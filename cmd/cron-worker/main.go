package main

import (
	"context"
	"flag"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noretmy/escrow-backend/internal/cron"
	"github.com/noretmy/escrow-backend/internal/escrow"
	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	stripewebhook "github.com/noretmy/escrow-backend/internal/webhooks/stripe"
	"github.com/noretmy/escrow-backend/pkg/app"
	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/metrics"
	"github.com/noretmy/escrow-backend/pkg/migrate"
	"github.com/noretmy/escrow-backend/pkg/outbox"
	"github.com/noretmy/escrow-backend/pkg/redis"
	pkgstripe "github.com/noretmy/escrow-backend/pkg/stripe"
)

func main() {
	once := flag.Bool("once", false, "run a single cron cycle and exit")
	flag.Parse()

	proc := app.Start("cron-worker")
	cfg, logg := proc.Config, proc.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	proc.Must(boot, "bootstrap database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Must(boot, "run dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	proc.Must(boot, "bootstrap redis", err)
	proc.OnClose("redis", redisClient.Close)

	stripeClient, err := pkgstripe.NewClient(boot, cfg.Stripe, logg)
	proc.Must(boot, "bootstrap stripe", err)

	jobs, err := buildRegistry(cfg, logg, dbClient, stripeClient, metrics.NewEscrowMetrics(prometheus.DefaultRegisterer))
	proc.Must(boot, "register cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, cron.LockName, cfg.Cron.LockTTL)
	proc.Must(boot, "create cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	proc.Must(boot, "create cron service", err)

	ctx, stop := proc.SignalContext(map[string]any{"jobs": jobs.Names()})
	defer stop()

	if *once {
		failed, err := service.RunOnce(ctx)
		proc.Must(ctx, "finish cron cycle", err)
		if failed > 0 {
			logg.Warn(logg.WithField(ctx, "failed_jobs", failed), "cron cycle finished with failures")
			proc.Exit(ctx, 2)
		}
		proc.Close(ctx)
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); !app.Stopped(err) {
		proc.Must(ctx, "keep cron running", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	proc.Close(ctx)
}

func buildRegistry(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	stripeClient *pkgstripe.Client,
	escrowMetrics *metrics.EscrowMetrics,
) (*cron.Registry, error) {
	gormDB := dbClient.DB()
	outboxRepo := outbox.NewRepository(gormDB)
	outboxService := outbox.NewService(outboxRepo, logg)
	orderRepo := orders.NewRepository(gormDB)

	ledger, err := revenue.NewLedger(revenue.NewRepository(gormDB), enums.Currency(cfg.Pricing.Currency))
	if err != nil {
		return nil, err
	}
	paymentGateway, err := gateway.NewStripeGateway(gateway.NewStripeAPI(stripeClient), cfg.Escrow.GatewayTimeout, escrowMetrics, logg)
	if err != nil {
		return nil, err
	}
	escrowService, err := escrow.NewService(escrow.ServiceParams{
		TransactionRunner: dbClient,
		Orders:            orderRepo,
		Milestones:        milestones.NewRepository(gormDB),
		Revenue:           ledger,
		Gateway:           paymentGateway,
		Outbox:            outboxService,
		Metrics:           escrowMetrics,
		Logger:            logg,
	})
	if err != nil {
		return nil, err
	}

	reconcile, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:    logg,
		DB:        dbClient,
		Orders:    orderRepo,
		Revenue:   ledger,
		Outbox:    outboxService,
		Metrics:   escrowMetrics,
		BatchSize: cfg.Cron.ReconcileBatch,
	})
	if err != nil {
		return nil, err
	}
	release, err := cron.NewReleaseJob(cron.ReleaseJobParams{
		Logger: logg,
		Orders: orderRepo,
		Escrow: escrowService,
		Grace:  cfg.Cron.ReleaseGrace,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Outbox:      outboxRepo,
		Webhooks:    stripewebhook.NewRepository(gormDB),
		OutboxDays:  cfg.Cron.OutboxRetentionDays,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{reconcile, release, retention} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
