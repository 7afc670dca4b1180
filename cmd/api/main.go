package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noretmy/escrow-backend/api/routes"
	"github.com/noretmy/escrow-backend/internal/checkout"
	"github.com/noretmy/escrow-backend/internal/collaborators"
	"github.com/noretmy/escrow-backend/internal/escrow"
	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/pricing"
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
	"github.com/noretmy/escrow-backend/pkg/outbox/idempotency"
	"github.com/noretmy/escrow-backend/pkg/redis"
	"github.com/noretmy/escrow-backend/pkg/storage/gcs"
	pkgstripe "github.com/noretmy/escrow-backend/pkg/stripe"
)

const shutdownTimeout = 20 * time.Second

func main() {
	proc := app.Start("api")
	cfg, logg := proc.Config, proc.Logger
	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	proc.Must(boot, "bootstrap database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Must(boot, "run dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	proc.Must(boot, "bootstrap redis", err)
	proc.OnClose("redis", redisClient.Close)

	storageClient, err := gcs.NewClient(boot, cfg.GCS, cfg.GCP, logg)
	proc.Must(boot, "bootstrap gcs", err)
	proc.OnClose("gcs", storageClient.Close)

	stripeClient, err := pkgstripe.NewClient(boot, cfg.Stripe, logg)
	proc.Must(boot, "bootstrap stripe", err)

	escrowMetrics := metrics.NewEscrowMetrics(prometheus.DefaultRegisterer)
	services, err := buildServices(cfg, logg, dbClient, redisClient, storageClient, stripeClient, escrowMetrics)
	proc.Must(boot, "wire services", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, prometheus.DefaultGatherer, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := proc.SignalContext(map[string]any{"addr": server.Addr})
	defer stop()

	logg.Info(ctx, "starting api server")
	proc.Must(ctx, "serve http", app.Supervise(ctx, logg, app.Task{Name: "http", Run: func(ctx context.Context) error {
		return serve(ctx, server)
	}}))

	logg.Info(ctx, "api server shutting down gracefully")
	proc.Close(ctx)
}

// serve runs server until ctx ends, then drains in-flight requests.
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func buildServices(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	storageClient *gcs.Client,
	stripeClient *pkgstripe.Client,
	escrowMetrics *metrics.EscrowMetrics,
) (routes.Services, error) {
	gormDB := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	orderRepo := orders.NewRepository(gormDB)
	milestoneRepo := milestones.NewRepository(gormDB)
	ledger, err := revenue.NewLedger(revenue.NewRepository(gormDB), enums.Currency(cfg.Pricing.Currency))
	if err != nil {
		return routes.Services{}, err
	}

	paymentGateway, err := gateway.NewStripeGateway(gateway.NewStripeAPI(stripeClient), cfg.Escrow.GatewayTimeout, escrowMetrics, logg)
	if err != nil {
		return routes.Services{}, err
	}
	calculator, err := pricing.NewCalculator(cfg.Pricing.FeeRate())
	if err != nil {
		return routes.Services{}, err
	}

	documents, err := collaborators.NewGCSDocuments(storageClient.Storage(), storageClient.DefaultBucket(), cfg.GCS.PublicBase)
	if err != nil {
		return routes.Services{}, err
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		TransactionRunner:   dbClient,
		Orders:              orderRepo,
		Directory:           collaborators.NewDirectory(gormDB),
		VATRates:            collaborators.NewVATRates(gormDB),
		Pricing:             calculator,
		Gateway:             paymentGateway,
		Outbox:              outboxService,
		Logger:              logg,
		DefaultDeliveryDays: cfg.Escrow.DefaultDeliveryDays,
	})
	if err != nil {
		return routes.Services{}, err
	}

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		TransactionRunner: dbClient,
		Orders:            orderRepo,
		Milestones:        milestoneRepo,
		Revenue:           ledger,
		Gateway:           paymentGateway,
		Outbox:            outboxService,
		Metrics:           escrowMetrics,
		Logger:            logg,
	})
	if err != nil {
		return routes.Services{}, err
	}

	orderService, err := orders.NewService(orderRepo, milestoneRepo)
	if err != nil {
		return routes.Services{}, err
	}

	dispatcher, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Escrow:            escrowService,
		Orders:            orderRepo,
		Revenue:           ledger,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Services{}, err
	}
	processed, err := idempotency.NewManager(redisClient, cfg.Webhooks.IdempotencyTTL)
	if err != nil {
		return routes.Services{}, err
	}
	processor, err := stripewebhook.NewProcessor(stripewebhook.ProcessorParams{
		Handler:           dispatcher,
		Events:            stripewebhook.NewRepository(gormDB),
		Guard:             processed.For("stripe"),
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Metrics:           escrowMetrics,
		Logger:            logg,
	})
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Checkout:  checkoutService,
		Orders:    orderService,
		Escrow:    escrowService,
		Revenue:   ledger,
		Documents: documents,
		Webhooks:  processor,
		Stripe:    stripeClient,

		HTTPMetrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	}, nil
}
