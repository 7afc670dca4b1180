package webhooks

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/api/responses"
	"github.com/noretmy/escrow-backend/api/validators"
	stripewebhook "github.com/noretmy/escrow-backend/internal/webhooks/stripe"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

type deadLetterQueue interface {
	ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	Replay(ctx context.Context, id uuid.UUID) (stripewebhook.Outcome, error)
}

type failedEventDTO struct {
	ID              uuid.UUID `json:"id"`
	ProviderEventID string    `json:"provider_event_id"`
	EventType       string    `json:"event_type"`
	Attempts        int       `json:"attempts"`
	Error           string    `json:"error,omitempty"`
	ReceivedAt      string    `json:"received_at"`
}

// ListFailed returns dead-lettered webhook events for operators.
func ListFailed(dlq deadLetterQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dlq == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := dlq.ListFailed(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed webhooks"))
			return
		}
		out := make([]failedEventDTO, 0, len(rows))
		for _, row := range rows {
			dto := failedEventDTO{
				ID:              row.ID,
				ProviderEventID: row.ProviderEventID,
				EventType:       row.EventType,
				Attempts:        row.Attempts,
				ReceivedAt:      row.ReceivedAt.UTC().Format(time.RFC3339),
			}
			if row.ProcessingError != nil {
				dto.Error = *row.ProcessingError
			}
			out = append(out, dto)
		}
		responses.WriteSuccess(w, out)
	}
}

// Replay reprocesses one dead-lettered webhook event.
func Replay(dlq deadLetterQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dlq == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}
		id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "eventId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid event id"))
			return
		}
		outcome, err := dlq.Replay(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": id.String(), "outcome": string(outcome)})
	}
}
