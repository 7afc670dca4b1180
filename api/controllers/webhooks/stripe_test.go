package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/noretmy/escrow-backend/internal/gateway"
	stripewebhook "github.com/noretmy/escrow-backend/internal/webhooks/stripe"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	pkgstripe "github.com/noretmy/escrow-backend/pkg/stripe"
)

func TestPaymentsWebhook_AcknowledgesVerifiedEvent(t *testing.T) {
	payload, header := buildSignedEvent(t, "whsec_test")
	processor := &fakeProcessor{outcome: stripewebhook.OutcomeProcessed}
	handler := PaymentsWebhook(processor, pkgstripe.NewSigningClient("whsec_test"), 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"received":true`) {
		t.Fatalf("expected ack body, got %s", rec.Body.String())
	}
	if len(processor.events) != 1 || processor.events[0].Type != stripe.EventTypePaymentIntentAmountCapturableUpdated {
		t.Fatalf("processor not invoked with event: %+v", processor.events)
	}
}

func TestPaymentsWebhook_AcknowledgesDeadLetteredEvent(t *testing.T) {
	payload, header := buildSignedEvent(t, "whsec_test")
	processor := &fakeProcessor{outcome: stripewebhook.OutcomeFailed}
	handler := PaymentsWebhook(processor, pkgstripe.NewSigningClient("whsec_test"), 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for dead-lettered event, got %d", rec.Code)
	}
}

func TestPaymentsWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, "whsec_test")
	processor := &fakeProcessor{}
	handler := PaymentsWebhook(processor, pkgstripe.NewSigningClient("whsec_test"), 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	if len(processor.events) != 0 {
		t.Fatalf("processor should not be invoked on invalid signature")
	}
}

func TestPaymentsWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, "whsec_test")
	handler := PaymentsWebhook(&fakeProcessor{}, pkgstripe.NewSigningClient("whsec_test"), 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rec.Code)
	}
}

func TestPaymentsWebhook_BodyTooLarge(t *testing.T) {
	payload, header := buildSignedEvent(t, "whsec_test")
	handler := PaymentsWebhook(&fakeProcessor{}, pkgstripe.NewSigningClient("whsec_test"), 16, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestPaymentsWebhook_RecordingFailureAsksForRetry(t *testing.T) {
	payload, header := buildSignedEvent(t, "whsec_test")
	processor := &fakeProcessor{err: pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("db down"), "record webhook event")}
	handler := PaymentsWebhook(processor, pkgstripe.NewSigningClient("whsec_test"), 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", rec.Code)
	}
}

func TestReplay_InvalidID(t *testing.T) {
	handler := Replay(&fakeProcessor{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/webhooks/nope/replay", nil)
	req = withURLParam(req, "eventId", "nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReplay_PassesThroughPrecondition(t *testing.T) {
	processor := &fakeProcessor{replayErr: pkgerrors.New(pkgerrors.CodePrecondition, "only failed webhook events can be replayed")}
	handler := Replay(processor, nil)
	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/webhooks/"+id.String()+"/replay", nil)
	req = withURLParam(req, "eventId", id.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if processor.replayed != id {
		t.Fatalf("expected replay of %s, got %s", id, processor.replayed)
	}
}

func TestListFailed_RendersErrors(t *testing.T) {
	msg := "CAPTURE_FAILED: payment capture failed"
	processor := &fakeProcessor{failed: []models.WebhookEvent{{
		ID:              uuid.New(),
		ProviderEventID: "evt_1",
		EventType:       "payment_intent.succeeded",
		Attempts:        1,
		ProcessingError: &msg,
		ReceivedAt:      time.Now(),
	}}}
	handler := ListFailed(processor, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/v1/webhooks/failed?limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if processor.limit != 10 {
		t.Fatalf("expected limit 10, got %d", processor.limit)
	}
	if !strings.Contains(rec.Body.String(), "evt_1") || !strings.Contains(rec.Body.String(), "CAPTURE_FAILED") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func buildSignedEvent(t *testing.T, secret string) ([]byte, string) {
	t.Helper()
	intent := map[string]any{
		"id":       "pi_" + uuid.NewString(),
		"object":   "payment_intent",
		"amount":   11000,
		"currency": "usd",
		"metadata": gateway.OrderPaymentMetadata{OrderID: uuid.New()}.Values(),
	}
	rawIntent, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentAmountCapturableUpdated,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawIntent,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, secret, time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeProcessor struct {
	events    []stripe.Event
	outcome   stripewebhook.Outcome
	err       error
	failed    []models.WebhookEvent
	limit     int
	replayed  uuid.UUID
	replayErr error
}

func (f *fakeProcessor) Process(ctx context.Context, event stripe.Event, payload []byte) (stripewebhook.Outcome, error) {
	f.events = append(f.events, event)
	return f.outcome, f.err
}

func (f *fakeProcessor) ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	f.limit = limit
	return f.failed, nil
}

func (f *fakeProcessor) Replay(ctx context.Context, id uuid.UUID) (stripewebhook.Outcome, error) {
	f.replayed = id
	if f.replayErr != nil {
		return "", f.replayErr
	}
	return stripewebhook.OutcomeProcessed, nil
}
