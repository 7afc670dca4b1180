package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	"github.com/noretmy/escrow-backend/pkg/pagination"
)

// Expectation is the optimistic-lock precondition of an order update.
type Expectation struct {
	Status  enums.OrderStatus
	Version int
}

// ListFilter narrows a participant's order listing. A nil BuyerID and SellerID lists every order.
type ListFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   enums.OrderStatus
	Limit    int
	Cursor   *pagination.Cursor
}

// Repository defines persistence operations for orders and their append-only side tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Order, error)
	CompareAndSet(ctx context.Context, id uuid.UUID, expect Expectation, updates map[string]any) error
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error
	AppendHistory(ctx context.Context, entry *models.StatusHistoryEntry) error
	AppendTimeline(ctx context.Context, entry *models.TimelineEntry) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.StatusHistoryEntry, error)
	ListTimeline(ctx context.Context, orderID uuid.UUID) ([]models.TimelineEntry, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, *pagination.Cursor, error)
	ListAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Order, error)
	ListStale(ctx context.Context, status enums.OrderStatus, updatedBefore time.Time, limit int) ([]models.Order, error)
}
