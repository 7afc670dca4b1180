package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/metrics"
)

// Gateway is the payment provider boundary used by checkout and the escrow engine.
type Gateway interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error)
	CapturePartial(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	CancelAuthorization(ctx context.Context, intentID, idempotencyKey string) error
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

type AuthorizationRequest struct {
	Amount         decimal.Decimal
	Currency       enums.Currency
	CustomerEmail  string
	Metadata       PurposeMetadata
	IdempotencyKey string
}

type Authorization struct {
	IntentID     string
	ClientSecret string
	Status       string
}

type CaptureRequest struct {
	IntentID       string
	Amount         decimal.Decimal
	Currency       enums.Currency
	Final          bool
	IdempotencyKey string
}

// CaptureResult describes a capture. AlreadyCaptured is set when the provider
// reported the amount as captured by an earlier call.
type CaptureResult struct {
	IntentID        string
	Amount          decimal.Decimal
	Status          string
	AlreadyCaptured bool
}

type RefundRequest struct {
	IntentID       string
	ChargeID       string
	Amount         decimal.Decimal
	Currency       enums.Currency
	IdempotencyKey string
}

type RefundResult struct {
	RefundID        string
	Amount          decimal.Decimal
	Status          string
	AlreadyRefunded bool
}

// StripeGateway implements Gateway over Stripe payment intents with manual multicapture.
type StripeGateway struct {
	api     StripeAPI
	timeout time.Duration
	metrics *metrics.EscrowMetrics
	logg    *logger.Logger
}

func NewStripeGateway(api StripeAPI, timeout time.Duration, m *metrics.EscrowMetrics, logg *logger.Logger) (*StripeGateway, error) {
	if api == nil {
		return nil, errors.New("stripe api required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGateway{api: api, timeout: timeout, metrics: m, logg: logg}, nil
}

func (g *StripeGateway) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	if req.Metadata == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment metadata required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization amount must be positive")
	}
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount)),
		Currency: stripe.String(string(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if req.Metadata.Purpose() == enums.PaymentPurposeOrder {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				RequestMulticapture: stripe.String("if_available"),
			},
		}
	}
	for k, v := range req.Metadata.Values() {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	pi, err := g.api.CreatePaymentIntent(callCtx, params)
	g.metrics.ObserveGatewayCall("authorize", time.Since(start))
	if err != nil {
		reason := failureReason(callCtx, err)
		code := pkgerrors.CodeDependency
		if isCardError(err) {
			code = pkgerrors.CodeCaptureFailed
		}
		return nil, pkgerrors.Wrap(code, err, "payment authorization failed").
			WithDetails(map[string]any{"reason": reason})
	}
	return &Authorization{IntentID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) CapturePartial(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if strings.TrimSpace(req.IntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "order has no payment intent")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture amount must be positive")
	}
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(ToMinorUnits(req.Amount)),
		FinalCapture:    stripe.Bool(req.Final),
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	pi, err := g.api.CapturePaymentIntent(callCtx, req.IntentID, params)
	g.metrics.ObserveGatewayCall("capture", time.Since(start))
	if err != nil {
		if isAlreadyProcessed(err) {
			g.logDuplicate(ctx, "capture", req.IntentID, req.IdempotencyKey)
			return &CaptureResult{IntentID: req.IntentID, Amount: req.Amount, AlreadyCaptured: true}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeCaptureFailed, err, "milestone capture failed").
			WithDetails(map[string]any{"reason": failureReason(callCtx, err), "intent_id": req.IntentID})
	}
	return &CaptureResult{IntentID: pi.ID, Amount: req.Amount, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, intentID, idempotencyKey string) error {
	if strings.TrimSpace(intentID) == "" {
		return nil
	}
	if err := requireKey(idempotencyKey); err != nil {
		return err
	}
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.SetIdempotencyKey(idempotencyKey)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	_, err := g.api.CancelPaymentIntent(callCtx, intentID, params)
	g.metrics.ObserveGatewayCall("cancel", time.Since(start))
	if err != nil {
		if isAlreadyProcessed(err) {
			g.logDuplicate(ctx, "cancel", intentID, idempotencyKey)
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel authorization failed").
			WithDetails(map[string]any{"reason": failureReason(callCtx, err), "intent_id": intentID})
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if strings.TrimSpace(req.IntentID) == "" && strings.TrimSpace(req.ChargeID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund requires an intent or charge")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if err := requireKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	params := &stripe.RefundParams{
		Amount: stripe.Int64(ToMinorUnits(req.Amount)),
		Reason: stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.ChargeID != "" {
		params.Charge = stripe.String(req.ChargeID)
	} else {
		params.PaymentIntent = stripe.String(req.IntentID)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	rf, err := g.api.CreateRefund(callCtx, params)
	g.metrics.ObserveGatewayCall("refund", time.Since(start))
	if err != nil {
		if isAlreadyProcessed(err) {
			g.logDuplicate(ctx, "refund", req.IntentID, req.IdempotencyKey)
			return &RefundResult{Amount: req.Amount, AlreadyRefunded: true}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeRefundFailed, err, "milestone refund failed").
			WithDetails(map[string]any{"reason": failureReason(callCtx, err), "intent_id": req.IntentID})
	}
	return &RefundResult{RefundID: rf.ID, Amount: FromMinorUnits(rf.Amount), Status: string(rf.Status)}, nil
}

func (g *StripeGateway) logDuplicate(ctx context.Context, op, intentID, key string) {
	if g.logg == nil {
		return
	}
	ctx = g.logg.WithFields(ctx, map[string]any{
		"operation":       op,
		"intent_id":       intentID,
		"idempotency_key": key,
	})
	g.logg.Info(ctx, "gateway call already applied at provider")
}

// ToMinorUnits converts a two-decimal amount to the provider's integer cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

func requireKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	return nil
}

var alreadyProcessedCodes = map[stripe.ErrorCode]struct{}{
	"charge_already_captured": {},
	"charge_already_refunded": {},
}

// isAlreadyProcessed reports provider errors that mean the requested effect
// already happened: a repeated capture, refund or cancellation.
func isAlreadyProcessed(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	if _, ok := alreadyProcessedCodes[se.Code]; ok {
		return true
	}
	if se.Code == "payment_intent_unexpected_state" {
		msg := strings.ToLower(se.Msg)
		return strings.Contains(msg, "already") ||
			strings.Contains(msg, "status of succeeded") ||
			strings.Contains(msg, "status of canceled")
	}
	return false
}

func isCardError(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Type == stripe.ErrorTypeCard
}

func failureReason(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "gateway timeout"
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.DeclineCode != "" {
			return fmt.Sprintf("%s: %s", se.Code, se.DeclineCode)
		}
		if se.Code != "" {
			return string(se.Code)
		}
		if se.Msg != "" {
			return se.Msg
		}
	}
	return err.Error()
}
