package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/api/middleware"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/enums"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubLedger struct {
	sellerID uuid.UUID
}

func (s *stubLedger) Get(ctx context.Context, sellerID uuid.UUID) (*revenue.Balance, error) {
	s.sellerID = sellerID
	return &revenue.Balance{
		SellerID:  sellerID,
		Total:     decimal.RequireFromString("90"),
		Pending:   decimal.RequireFromString("90"),
		Available: decimal.Zero,
		Withdrawn: decimal.Zero,
		Currency:  enums.CurrencyUSD,
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}

func TestHealthLive(t *testing.T) {
	resp := httptest.NewRecorder()
	HealthLive(testConfig()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Noretmy-Env") != "test" {
		t.Fatalf("expected env header")
	}
}

func TestHealthReadyReportsFailedDependencies(t *testing.T) {
	deps := map[string]Pinger{
		"postgres": stubPinger{},
		"redis":    stubPinger{err: errors.New("connection refused")},
	}
	resp := httptest.NewRecorder()
	HealthReady(testConfig(), deps, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "redis") || strings.Contains(resp.Body.String(), "postgres") {
		t.Fatalf("expected only redis in failure details: %s", resp.Body.String())
	}
}

func TestHealthReadyOK(t *testing.T) {
	deps := map[string]Pinger{"postgres": stubPinger{}, "redis": stubPinger{}}
	resp := httptest.NewRecorder()
	HealthReady(testConfig(), deps, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestMyRevenueForSeller(t *testing.T) {
	ledger := &stubLedger{}
	sellerID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/revenue/me", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), sellerID, enums.ActorRoleSeller))

	resp := httptest.NewRecorder()
	MyRevenue(ledger, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if ledger.sellerID != sellerID {
		t.Fatalf("expected ledger lookup for caller")
	}
	if !strings.Contains(resp.Body.String(), `"pending":"90"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestMyRevenueRejectsBuyers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/revenue/me", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), uuid.New(), enums.ActorRoleBuyer))
	resp := httptest.NewRecorder()
	MyRevenue(&stubLedger{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}
