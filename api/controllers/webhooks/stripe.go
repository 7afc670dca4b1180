package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/noretmy/escrow-backend/api/responses"
	stripewebhook "github.com/noretmy/escrow-backend/internal/webhooks/stripe"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

const defaultMaxBodyBytes int64 = 1 << 16

type eventProcessor interface {
	Process(ctx context.Context, event stripe.Event, payload []byte) (stripewebhook.Outcome, error)
}

type eventVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// PaymentsWebhook verifies and processes payment provider deliveries. Any
// verified event is acknowledged, including ones whose processing failed and
// was dead-lettered.
func PaymentsWebhook(processor eventProcessor, verifier eventVerifier, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := verifier.ConstructEvent(payload, sigHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature"))
			return
		}

		// Handler failures come back acknowledged and dead-lettered. An error
		// here means the event was never recorded, so the provider must resend it.
		outcome, err := processor.Process(ctx, event, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID,
				"event_type": string(event.Type),
				"outcome":    string(outcome),
			}), "webhook.received")
		}
		responses.WriteWebhookAck(w)
	}
}
