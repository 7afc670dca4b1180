package gateway

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	pkgstripe "github.com/noretmy/escrow-backend/pkg/stripe"
)

// StripeAPI exposes the subset of Stripe operations the gateway requires.
type StripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type sdkAPI struct {
	intents *paymentintent.Client
	refunds *refund.Client
}

// NewStripeAPI adapts the configured client's resource clients to StripeAPI.
// It returns nil when the client cannot reach the API.
func NewStripeAPI(client *pkgstripe.Client) StripeAPI {
	intents, refunds := client.PaymentIntents(), client.Refunds()
	if intents == nil || refunds == nil {
		return nil
	}
	return sdkAPI{intents: intents, refunds: refunds}
}

func (a sdkAPI) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return a.intents.New(params)
}

func (a sdkAPI) CapturePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return a.intents.Capture(id, params)
}

func (a sdkAPI) CancelPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return a.intents.Cancel(id, params)
}

func (a sdkAPI) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	params.Context = ctx
	return a.refunds.New(params)
}
