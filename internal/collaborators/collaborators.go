// Package collaborators adapts the services the escrow engine consumes but
// does not own: identity, catalog, VAT administration, email, in-app
// notifications and file storage.
package collaborators

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

type User struct {
	ID    uuid.UUID
	Email string
	Role  string
	Name  string
}

type Gig struct {
	ID           uuid.UUID
	Title        string
	SellerID     uuid.UUID
	Price        decimal.Decimal
	Currency     enums.Currency
	DeliveryDays int
}

type Notification struct {
	UserID  uuid.UUID
	Type    enums.NotificationType
	Title   string
	Message string
	Link    string
}

// Upload is one file handed to the document store.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetGig(ctx context.Context, id uuid.UUID) (*Gig, error)
}

type VATRates interface {
	GetVatRate(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

type Mailer interface {
	SendEmail(ctx context.Context, template, recipient string, data map[string]any) error
}

type Notifier interface {
	CreateNotification(ctx context.Context, n Notification) error
}

type Documents interface {
	UploadDocuments(ctx context.Context, prefix string, files []Upload) ([]string, error)
}
