package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/api/middleware"
	"github.com/noretmy/escrow-backend/api/responses"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

type balanceReader interface {
	Get(ctx context.Context, sellerID uuid.UUID) (*revenue.Balance, error)
}

// MyRevenue returns the calling seller's balance.
func MyRevenue(ledger balanceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "revenue ledger unavailable"))
			return
		}
		viewer, err := middleware.ViewerFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if viewer.Role != enums.ActorRoleSeller {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller role required"))
			return
		}
		balance, err := ledger.Get(r.Context(), viewer.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}
