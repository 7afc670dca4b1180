package orders

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/api/middleware"
	"github.com/noretmy/escrow-backend/api/responses"
	"github.com/noretmy/escrow-backend/api/validators"
	"github.com/noretmy/escrow-backend/internal/checkout"
	"github.com/noretmy/escrow-backend/internal/collaborators"
	"github.com/noretmy/escrow-backend/internal/escrow"
	internalorders "github.com/noretmy/escrow-backend/internal/orders"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/pagination"
	"github.com/noretmy/escrow-backend/pkg/types"
)

const (
	maxMessageLength    = 5000
	maxDeliveryFiles    = 10
	maxDeliveryFormSize = 32 << 20
)

type orderReader interface {
	Get(ctx context.Context, viewer internalorders.Viewer, orderID uuid.UUID) (*internalorders.OrderView, error)
	Timeline(ctx context.Context, viewer internalorders.Viewer, orderID uuid.UUID) ([]internalorders.TimelineView, error)
}

type orderLister interface {
	List(ctx context.Context, viewer internalorders.Viewer, params internalorders.ListParams) (*types.Page[internalorders.OrderView], error)
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, buyerID uuid.UUID, input checkout.PlaceOrderInput) (*checkout.PlaceOrderResult, error)
}

type placeOrderRequest struct {
	GigID        string `json:"gigId" validate:"required,uuid"`
	Requirements string `json:"requirements" validate:"max=5000"`
}

type placeOrderResponse struct {
	Order        internalorders.OrderView `json:"order"`
	ClientSecret string                   `json:"client_secret"`
}

type messageRequest struct {
	Message string `json:"message" validate:"max=5000"`
}

type requirementsRequest struct {
	Requirements string `json:"requirements" validate:"required,notblank,max=5000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,notblank,max=2000"`
}

type deliverRequest struct {
	Message     string   `json:"message" validate:"max=5000"`
	Attachments []string `json:"attachments" validate:"max=10,dive,url"`
}

// PlaceOrder authorizes the buyer's card and opens a new order.
func PlaceOrder(svc orderPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		viewer, err := middleware.ViewerFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if viewer.Role != enums.ActorRoleBuyer {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can place orders"))
			return
		}

		var req placeOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		gigID, err := uuid.Parse(req.GigID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid gig id"))
			return
		}

		result, err := svc.PlaceOrder(r.Context(), viewer.UserID, checkout.PlaceOrderInput{
			GigID:        gigID,
			Requirements: validators.SanitizeString(req.Requirements, maxMessageLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, placeOrderResponse{
			Order:        internalorders.NewOrderView(result.Order, nil),
			ClientSecret: result.ClientSecret,
		})
	}
}

// List pages through the caller's orders, newest first.
func List(lister orderLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lister == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		viewer, err := middleware.ViewerFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := validators.Query(r)
		params := internalorders.ListParams{
			Status: enums.OrderStatus(q.Text("status")),
			Params: pagination.Params{
				Limit:  q.Int("limit", pagination.DefaultLimit, 1, pagination.MaxLimit),
				Cursor: q.Text("cursor"),
			},
		}
		if err := q.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := lister.List(r.Context(), viewer, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns the order with its milestones to either party or an admin.
func Detail(reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		viewer, orderID, err := viewerAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := reader.Get(r.Context(), viewer, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Timeline returns the order's human readable events, oldest first.
func Timeline(reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		viewer, orderID, err := viewerAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := reader.Timeline(r.Context(), viewer, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

// SubmitRequirements records the buyer's brief on a paid order.
func SubmitRequirements(svc escrow.Service, reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		var req requirementsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.SubmitRequirements(r.Context(), viewer, orderID, validators.SanitizeString(req.Requirements, maxMessageLength))
	})
}

// StartWork captures the escrow milestone and moves the order into progress.
func StartWork(svc escrow.Service, reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		return svc.StartWork(r.Context(), viewer, orderID)
	})
}

func MarkHalfway(svc escrow.Service, reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		return svc.MarkHalfway(r.Context(), viewer, orderID)
	})
}

// Deliver accepts either a JSON body with attachment URLs or a multipart form
// whose files are uploaded to the document store first.
func Deliver(svc escrow.Service, reader orderReader, docs collaborators.Documents, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		input, err := parseDelivery(r, docs, orderID)
		if err != nil {
			return nil, err
		}
		return svc.Deliver(r.Context(), viewer, orderID, input)
	})
}

func RequestRevision(svc escrow.Service, reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		var req messageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.RequestRevision(r.Context(), viewer, orderID, validators.SanitizeString(req.Message, maxMessageLength))
	})
}

// Approve captures the review milestone and releases the escrow to the seller.
func Approve(svc escrow.Service, reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		return svc.Approve(r.Context(), viewer, orderID)
	})
}

func Cancel(svc escrow.Service, reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		var req reasonRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.Cancel(r.Context(), viewer, orderID, validators.SanitizeString(req.Reason, maxMessageLength))
	})
}

func OpenDispute(svc escrow.Service, reader orderReader, logg *logger.Logger) http.HandlerFunc {
	return action(svc, reader, logg, func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error) {
		var req reasonRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.OpenDispute(r.Context(), viewer, orderID, validators.SanitizeString(req.Reason, maxMessageLength))
	})
}

type actionFunc func(r *http.Request, viewer internalorders.Viewer, orderID uuid.UUID) (*models.Order, error)

// action resolves the caller and order id, runs fn and renders the fresh
// order view.
func action(svc escrow.Service, reader orderReader, logg *logger.Logger, fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		viewer, orderID, err := viewerAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := fn(r, viewer, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if reader != nil {
			if view, err := reader.Get(r.Context(), viewer, order.ID); err == nil {
				responses.WriteSuccess(w, view)
				return
			}
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(order, nil))
	}
}

func viewerAndOrder(r *http.Request) (internalorders.Viewer, uuid.UUID, error) {
	viewer, err := middleware.ViewerFromContext(r.Context())
	if err != nil {
		return internalorders.Viewer{}, uuid.Nil, err
	}
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		return internalorders.Viewer{}, uuid.Nil, err
	}
	return viewer, orderID, nil
}

func parseDelivery(r *http.Request, docs collaborators.Documents, orderID uuid.UUID) (escrow.DeliverInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req deliverRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return escrow.DeliverInput{}, err
		}
		return escrow.DeliverInput{
			Message:     validators.SanitizeString(req.Message, maxMessageLength),
			Attachments: req.Attachments,
		}, nil
	}

	if docs == nil {
		return escrow.DeliverInput{}, pkgerrors.New(pkgerrors.CodeInternal, "document store unavailable")
	}
	if err := r.ParseMultipartForm(maxDeliveryFormSize); err != nil {
		return escrow.DeliverInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form")
	}
	files := r.MultipartForm.File["files"]
	if len(files) > maxDeliveryFiles {
		return escrow.DeliverInput{}, pkgerrors.New(pkgerrors.CodeValidation, "too many files").WithDetails(map[string]any{"max": maxDeliveryFiles})
	}

	uploads := make([]collaborators.Upload, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			return escrow.DeliverInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "open uploaded file")
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return escrow.DeliverInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read uploaded file")
		}
		uploads = append(uploads, collaborators.Upload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	var urls []string
	if len(uploads) > 0 {
		var err error
		urls, err = docs.UploadDocuments(r.Context(), deliveryPrefix(orderID), uploads)
		if err != nil {
			return escrow.DeliverInput{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload delivery files")
		}
	}

	return escrow.DeliverInput{
		Message:     validators.SanitizeString(r.FormValue("message"), maxMessageLength),
		Attachments: urls,
	}, nil
}

func deliveryPrefix(orderID uuid.UUID) string {
	return strings.Join([]string{"orders", orderID.String(), "deliveries"}, "/")
}
