package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/pagination"
	"github.com/noretmy/escrow-backend/pkg/types"
)

// Service exposes the read side of orders to buyers, sellers and admins.
type Service interface {
	Get(ctx context.Context, viewer Viewer, orderID uuid.UUID) (*OrderView, error)
	Timeline(ctx context.Context, viewer Viewer, orderID uuid.UUID) ([]TimelineView, error)
	List(ctx context.Context, viewer Viewer, params ListParams) (*types.Page[OrderView], error)
}

// ListParams carries the query string of an order listing.
type ListParams struct {
	Status enums.OrderStatus
	pagination.Params
}

type service struct {
	repo       Repository
	milestones milestones.Repository
}

func NewService(repo Repository, milestoneRepo milestones.Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if milestoneRepo == nil {
		return nil, fmt.Errorf("milestones repository required")
	}
	return &service{repo: repo, milestones: milestoneRepo}, nil
}

func (s *service) Get(ctx context.Context, viewer Viewer, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.milestones.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load milestones")
	}
	view := NewOrderView(order, rows)
	return &view, nil
}

func (s *service) Timeline(ctx context.Context, viewer Viewer, orderID uuid.UUID) ([]TimelineView, error) {
	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListTimeline(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load timeline")
	}
	views := make([]TimelineView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, NewTimelineView(entry))
	}
	return views, nil
}

// List pages through the viewer's own orders. Buyers see what they bought,
// sellers what they sold and admins every order.
func (s *service) List(ctx context.Context, viewer Viewer, params ListParams) (*types.Page[OrderView], error) {
	if viewer.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if params.Status != "" && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").WithDetails(map[string]any{"status": params.Status})
	}

	filter := ListFilter{Status: params.Status, Limit: params.Limit}
	switch viewer.Role {
	case enums.ActorRoleBuyer:
		filter.BuyerID = &viewer.UserID
	case enums.ActorRoleSeller:
		filter.SellerID = &viewer.UserID
	case enums.ActorRoleAdmin:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot list orders")
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseToken(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		filter.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page := &types.Page[OrderView]{Items: make([]OrderView, 0, len(rows))}
	for i := range rows {
		page.Items = append(page.Items, NewOrderView(&rows[i], nil))
	}
	if next != nil {
		page.NextCursor = next.Token()
	}
	return page, nil
}

func (s *service) load(ctx context.Context, viewer Viewer, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if viewer.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CanView(order, viewer); err != nil {
		return nil, err
	}
	return order, nil
}

// CanView allows the order's buyer and seller plus admins.
func CanView(order *models.Order, viewer Viewer) error {
	switch {
	case viewer.Role == enums.ActorRoleAdmin:
		return nil
	case viewer.UserID == order.BuyerID, viewer.UserID == order.SellerID:
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this order")
	}
}
