package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes accepted per env.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

// Client owns one Stripe API backend and the webhook signing secret. Nothing
// is written to the SDK's package-level key.
type Client struct {
	env       string
	key       string
	secret    string
	tolerance time.Duration
	backend   stripe.Backend
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	if _, ok := keyPrefixes[env]; !ok {
		return nil, errInvalidStripeEnv
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if !keyMatches(env, key) {
		return nil, fmt.Errorf("stripe %s environment needs a key starting with %s", env, strings.Join(keyPrefixes[env], " or "))
	}

	c := &Client{
		env:       env,
		key:       key,
		secret:    secret,
		tolerance: cfg.WebhookTolerance,
		backend: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			MaxNetworkRetries: stripe.Int64(int64(max(cfg.MaxNetworkRetries, 0))),
		}),
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":     env,
			"stripe_retries": cfg.MaxNetworkRetries,
		}), "stripe client ready")
	}
	return c, nil
}

// NewSigningClient builds a client that can only verify webhook signatures.
func NewSigningClient(secret string) *Client {
	return &Client{env: testEnv, secret: secret}
}

func keyMatches(env, key string) bool {
	for _, prefix := range keyPrefixes[env] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.env
}

// PaymentIntents returns a payment intent client bound to this backend, or nil
// for a signing-only client.
func (c *Client) PaymentIntents() *paymentintent.Client {
	if c == nil || c.backend == nil {
		return nil
	}
	return &paymentintent.Client{B: c.backend, Key: c.key}
}

func (c *Client) Refunds() *refund.Client {
	if c == nil || c.backend == nil {
		return nil
	}
	return &refund.Client{B: c.backend, Key: c.key}
}

// ConstructEvent checks the Stripe-Signature header against the signing
// secret and decodes the event. A zero tolerance means the SDK default.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if c == nil || c.secret == "" {
		return stripe.Event{}, errSecretRequired
	}
	if c.tolerance <= 0 {
		return webhook.ConstructEvent(payload, header, c.secret)
	}
	return webhook.ConstructEventWithOptions(payload, header, c.secret, webhook.ConstructEventOptions{
		Tolerance: c.tolerance,
	})
}
