package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

type callerKey struct{}

type caller struct {
	id   uuid.UUID
	role enums.ActorRole
}

func callerFrom(ctx context.Context) (caller, bool) {
	if ctx == nil {
		return caller{}, false
	}
	c, ok := ctx.Value(callerKey{}).(caller)
	return c, ok
}

// UserIDFromContext returns the authenticated user id, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	if c, ok := callerFrom(ctx); ok {
		return c.id.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if c, ok := callerFrom(ctx); ok {
		return string(c.role)
	}
	return ""
}

// WithUser injects an authenticated caller; tests use it to bypass JWT parsing.
func WithUser(ctx context.Context, userID uuid.UUID, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller{id: userID, role: role})
}

// ViewerFromContext returns the authenticated caller as an order viewer.
func ViewerFromContext(ctx context.Context) (orders.Viewer, error) {
	c, ok := callerFrom(ctx)
	if !ok || c.id == uuid.Nil {
		return orders.Viewer{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user")
	}
	if !c.role.IsValid() {
		return orders.Viewer{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing role")
	}
	return orders.Viewer{UserID: c.id, Role: c.role}, nil
}
