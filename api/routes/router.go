package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/noretmy/escrow-backend/api/controllers"
	ordercontrollers "github.com/noretmy/escrow-backend/api/controllers/orders"
	webhookcontrollers "github.com/noretmy/escrow-backend/api/controllers/webhooks"
	"github.com/noretmy/escrow-backend/api/middleware"
	"github.com/noretmy/escrow-backend/internal/checkout"
	"github.com/noretmy/escrow-backend/internal/collaborators"
	"github.com/noretmy/escrow-backend/internal/escrow"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	stripewebhook "github.com/noretmy/escrow-backend/internal/webhooks/stripe"
	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/metrics"
	"github.com/noretmy/escrow-backend/pkg/redis"
)

type webhookProcessor interface {
	Process(ctx context.Context, event stripe.Event, payload []byte) (stripewebhook.Outcome, error)
	ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	Replay(ctx context.Context, id uuid.UUID) (stripewebhook.Outcome, error)
}

type eventVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// Services groups the domain services the HTTP surface exposes.
type Services struct {
	Checkout  checkout.Service
	Orders    orders.Service
	Escrow    escrow.Service
	Revenue   revenue.Ledger
	Documents collaborators.Documents
	Webhooks  webhookProcessor
	Stripe    eventVerifier

	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.AccessLog(logg, svc.HTTPMetrics),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	readiness := map[string]controllers.Pinger{}
	var idempotencyStore middleware.ResponseStore
	if dbP != nil {
		readiness["postgres"] = dbP
	}
	if redisClient != nil {
		readiness["redis"] = redisClient
		idempotencyStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	paymentsWebhook := webhookcontrollers.PaymentsWebhook(svc.Webhooks, svc.Stripe, cfg.Webhooks.MaxBodyBytes, logg)
	r.Post("/webhooks/payments", paymentsWebhook)
	r.Post("/api/v1/webhooks/payments", paymentsWebhook)
	r.Post("/api/v1/webhooks/stripe", paymentsWebhook)

	orderRoutes := func(r chi.Router) {
		r.Get("/{orderId}", ordercontrollers.Detail(svc.Orders, logg))
		r.Get("/{orderId}/timeline", ordercontrollers.Timeline(svc.Orders, logg))
		r.Post("/{orderId}/requirements", ordercontrollers.SubmitRequirements(svc.Escrow, svc.Orders, logg))
		r.Post("/{orderId}/start", ordercontrollers.StartWork(svc.Escrow, svc.Orders, logg))
		r.Post("/{orderId}/halfway", ordercontrollers.MarkHalfway(svc.Escrow, svc.Orders, logg))
		r.Post("/{orderId}/deliver", ordercontrollers.Deliver(svc.Escrow, svc.Orders, svc.Documents, logg))
		r.Post("/{orderId}/revision", ordercontrollers.RequestRevision(svc.Escrow, svc.Orders, logg))
		r.Post("/{orderId}/approve", ordercontrollers.Approve(svc.Escrow, svc.Orders, logg))
		r.Post("/{orderId}/cancel", ordercontrollers.Cancel(svc.Escrow, svc.Orders, logg))
		r.Post("/{orderId}/dispute", ordercontrollers.OpenDispute(svc.Escrow, svc.Orders, logg))
	}

	requestTTL := cfg.Eventing.RequestIdempotencyTTL
	actionLimit := middleware.ActionRateLimit(cfg.RateLimit, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(actionLimit)
		r.Use(middleware.Idempotency(idempotencyStore, requestTTL, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(svc.Orders, logg))
			r.Post("/", ordercontrollers.PlaceOrder(svc.Checkout, logg))
			orderRoutes(r)
		})
		r.Get("/revenue/me", controllers.MyRevenue(svc.Revenue, logg))
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(actionLimit)
		r.Use(middleware.Idempotency(idempotencyStore, requestTTL, logg))
		orderRoutes(r)
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(middleware.Idempotency(idempotencyStore, requestTTL, logg))
		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/failed", webhookcontrollers.ListFailed(svc.Webhooks, logg))
			r.Post("/{eventId}/replay", webhookcontrollers.Replay(svc.Webhooks, logg))
		})
	})

	return r
}
