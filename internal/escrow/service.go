package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/internal/gateway"
	"github.com/noretmy/escrow-backend/internal/milestones"
	"github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/internal/revenue"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/metrics"
	"github.com/noretmy/escrow-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service coordinates order transitions with captures, refunds and the seller ledger.
type Service interface {
	HandlePaymentAuthorized(ctx context.Context, intentID string) (*models.Order, error)
	RecordPaymentFailure(ctx context.Context, intentID, reason string) error
	RecordAuthorizationCanceled(ctx context.Context, intentID string) error
	ExtendDeadline(ctx context.Context, input ExtendDeadlineInput) (*models.Order, error)

	SubmitRequirements(ctx context.Context, actor orders.Viewer, orderID uuid.UUID, requirements string) (*models.Order, error)
	StartWork(ctx context.Context, actor orders.Viewer, orderID uuid.UUID) (*models.Order, error)
	MarkHalfway(ctx context.Context, actor orders.Viewer, orderID uuid.UUID) (*models.Order, error)
	Deliver(ctx context.Context, actor orders.Viewer, orderID uuid.UUID, input DeliverInput) (*models.Order, error)
	RequestRevision(ctx context.Context, actor orders.Viewer, orderID uuid.UUID, message string) (*models.Order, error)
	Approve(ctx context.Context, actor orders.Viewer, orderID uuid.UUID) (*models.Order, error)
	Release(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, actor orders.Viewer, orderID uuid.UUID, reason string) (*models.Order, error)
	OpenDispute(ctx context.Context, actor orders.Viewer, orderID uuid.UUID, reason string) (*models.Order, error)
}

// ServiceParams groups the escrow service dependencies.
type ServiceParams struct {
	TransactionRunner txRunner
	Orders            orders.Repository
	Milestones        milestones.Repository
	Revenue           revenue.Ledger
	Gateway           gateway.Gateway
	Outbox            outbox.Emitter
	Metrics           *metrics.EscrowMetrics
	Logger            *logger.Logger
	Clock             func() time.Time
}

// DeliverInput carries the seller's delivery note and uploaded file URLs.
type DeliverInput struct {
	Message     string
	Attachments []string
}

// ExtendDeadlineInput describes a paid delivery extension.
type ExtendDeadlineInput struct {
	OrderID   uuid.UUID
	ExtraDays int
	IntentID  string
}

type service struct {
	tx         txRunner
	orders     orders.Repository
	milestones milestones.Repository
	revenue    revenue.Ledger
	gateway    gateway.Gateway
	outbox     outbox.Emitter
	metrics    *metrics.EscrowMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Milestones == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "milestones repository required")
	}
	if params.Revenue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "revenue ledger required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:         params.TransactionRunner,
		orders:     params.Orders,
		milestones: params.Milestones,
		revenue:    params.Revenue,
		gateway:    params.Gateway,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        clock,
	}, nil
}

// actor is the resolved participant behind a trigger.
type actor struct {
	role enums.ActorRole
	id   *uuid.UUID
}

var systemActor = actor{role: enums.ActorRoleSystem}

// participant derives the caller's role from their relation to the order.
func participant(order *models.Order, viewer orders.Viewer) (actor, error) {
	if viewer.UserID == uuid.Nil {
		return actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	id := viewer.UserID
	switch id {
	case order.BuyerID:
		return actor{role: enums.ActorRoleBuyer, id: &id}, nil
	case order.SellerID:
		return actor{role: enums.ActorRoleSeller, id: &id}, nil
	default:
		return actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this order")
	}
}

func (a actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.id, Role: string(a.role)}
}

func (s *service) loadForActor(ctx context.Context, viewer orders.Viewer, orderID uuid.UUID) (*models.Order, actor, error) {
	if orderID == uuid.Nil {
		return nil, actor{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, actor{}, err
	}
	who, err := participant(order, viewer)
	if err != nil {
		return nil, actor{}, err
	}
	return order, who, nil
}

func (s *service) orderContext(ctx context.Context, order *models.Order, trigger enums.OrderTrigger) context.Context {
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	return s.logg.WithFields(ctx, map[string]any{
		"status":  order.Status,
		"trigger": trigger,
	})
}
