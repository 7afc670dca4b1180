package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v84"

	"github.com/noretmy/escrow-backend/internal/orders"
	stripewebhook "github.com/noretmy/escrow-backend/internal/webhooks/stripe"
	pkgAuth "github.com/noretmy/escrow-backend/pkg/auth"
	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/types"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubOrders struct {
	viewer orders.Viewer
}

func (s *stubOrders) Get(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID) (*orders.OrderView, error) {
	s.viewer = viewer
	return &orders.OrderView{ID: orderID, Status: enums.OrderStatusStarted}, nil
}

func (s *stubOrders) Timeline(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID) ([]orders.TimelineView, error) {
	return []orders.TimelineView{}, nil
}

func (s *stubOrders) List(ctx context.Context, viewer orders.Viewer, params orders.ListParams) (*types.Page[orders.OrderView], error) {
	s.viewer = viewer
	return &types.Page[orders.OrderView]{Items: []orders.OrderView{}}, nil
}

type stubWebhooks struct{}

func (stubWebhooks) Process(ctx context.Context, event stripe.Event, payload []byte) (stripewebhook.Outcome, error) {
	return stripewebhook.OutcomeProcessed, nil
}

func (stubWebhooks) ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return []models.WebhookEvent{}, nil
}

func (stubWebhooks) Replay(ctx context.Context, id uuid.UUID) (stripewebhook.Outcome, error) {
	return stripewebhook.OutcomeProcessed, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "test", CORSOrigins: "*"},
		JWT:      config.JWTConfig{Secret: "secret", Issuer: "noretmy", ExpirationMinutes: 30},
		Webhooks: config.WebhooksConfig{MaxBodyBytes: 1 << 16},
		Eventing: config.EventingConfig{RequestIdempotencyTTL: time.Hour},
	}
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	signer, err := pkgAuth.NewSigner(cfg.JWT)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, err := signer.Mint(time.Now().UTC(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func newTestRouter(cfg *config.Config, ordersSvc *stubOrders) http.Handler {
	return NewRouter(cfg, nil, stubPinger{}, nil, prometheus.NewRegistry(), Services{
		Orders:   ordersSvc,
		Webhooks: stubWebhooks{},
	})
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(testConfig(), &stubOrders{})
	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestOrderRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(testConfig(), &stubOrders{})
	for _, path := range []string{"/api/v1/orders/" + uuid.NewString(), "/orders/" + uuid.NewString()} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, resp.Code)
		}
	}
}

func TestOrderDetailAliasesResolveViewer(t *testing.T) {
	cfg := testConfig()
	ordersSvc := &stubOrders{}
	router := newTestRouter(cfg, ordersSvc)

	for _, path := range []string{"/api/v1/orders/", "/orders/"} {
		orderID := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, path+orderID, nil)
		req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleSeller))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d: %s", path, resp.Code, resp.Body.String())
		}
		if !strings.Contains(resp.Body.String(), orderID) {
			t.Fatalf("%s: expected order id in body", path)
		}
		if ordersSvc.viewer.Role != enums.ActorRoleSeller {
			t.Fatalf("%s: expected seller viewer, got %s", path, ordersSvc.viewer.Role)
		}
	}
}

func TestOrderListRoute(t *testing.T) {
	cfg := testConfig()
	ordersSvc := &stubOrders{}
	router := newTestRouter(cfg, ordersSvc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=10", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleBuyer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty page, got %s", resp.Body.String())
	}
	if ordersSvc.viewer.Role != enums.ActorRoleBuyer {
		t.Fatalf("expected buyer viewer, got %s", ordersSvc.viewer.Role)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, &stubOrders{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/webhooks/failed", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleBuyer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/webhooks/failed", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestPaymentsWebhookRoutesSkipAuth(t *testing.T) {
	router := newTestRouter(testConfig(), &stubOrders{})
	for _, path := range []string{"/webhooks/payments", "/api/v1/webhooks/payments", "/api/v1/webhooks/stripe"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		// No signing client is wired, so the handler itself rejects the call.
		if resp.Code == http.StatusUnauthorized || resp.Code == http.StatusNotFound {
			t.Fatalf("%s: expected webhook handler to run, got %d", path, resp.Code)
		}
	}
}
